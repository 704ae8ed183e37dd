package notify

// Notification statuses and descriptions.
const (
	StatusIncoming  = "incoming"
	StatusCompleted = "completed"

	DescAcquiring = "acquiring images"
	DescSentToIEP = "Sent to Image Exchange Platform."
)

// Notification is the JSON status/completion message published to the
// inbound and outbound queues.
type Notification struct {
	EdgeID          string  `json:"EdgeId"`
	DatastoreID     string  `json:"DatastoreId,omitempty"`
	JobID           string  `json:"JobId"`
	Direction       string  `json:"Direction"`
	Status          string  `json:"Status"`
	Description     string  `json:"Description"`
	ObjectCount     int     `json:"ObjectCount"`
	ObjectSentCount int     `json:"ObjectSentCount"`
	SourceAE        string  `json:"SourceAE,omitempty"`
	DestinationAE   string  `json:"DestinationAE,omitempty"`
	DCMObjs         []Study `json:"DCMObjs,omitempty"`
}

// Study mirrors the study level of a forward request.
type Study struct {
	StudyInstanceUID string   `json:"studyInstanceUID"`
	Series           []Series `json:"series"`
}

// Series mirrors the series level of a forward request.
type Series struct {
	SeriesInstanceUID string `json:"seriesInstanceUID"`
	SOPs              []SOP  `json:"SOPs"`
}

// SOP is one instance entry.
type SOP struct {
	SOPInstanceUID string `json:"sopInstanceUID"`
}

// Instance is a flat (study, series, instance) triple.
type Instance struct {
	StudyUID       string
	SeriesUID      string
	SOPInstanceUID string
}

// BuildTree groups instances into studies and series. Studies, series and
// instances keep the order in which they first appear.
func BuildTree(instances []Instance) []Study {
	var studies []Study
	studyIdx := make(map[string]int)
	seriesIdx := make(map[[2]string]int)

	for _, in := range instances {
		si, ok := studyIdx[in.StudyUID]
		if !ok {
			si = len(studies)
			studyIdx[in.StudyUID] = si
			studies = append(studies, Study{StudyInstanceUID: in.StudyUID})
		}

		key := [2]string{in.StudyUID, in.SeriesUID}
		ri, ok := seriesIdx[key]
		if !ok {
			ri = len(studies[si].Series)
			seriesIdx[key] = ri
			studies[si].Series = append(studies[si].Series, Series{SeriesInstanceUID: in.SeriesUID})
		}

		series := &studies[si].Series[ri]
		series.SOPs = append(series.SOPs, SOP{SOPInstanceUID: in.SOPInstanceUID})
	}
	return studies
}
