package intake

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/dicomgw/pkg/errkind"
)

// ForwardRequest asks the edge to fetch instances from the blob store and
// send them to a local DICOM receiver.
type ForwardRequest struct {
	JobID               string         `json:"jobId" validate:"required"`
	SourceAE            string         `json:"sourceAE"`
	DestinationAE       string         `json:"destinationAE" validate:"required"`
	DestinationHostname string         `json:"destinationHostname" validate:"required"`
	DestinationPort     Port           `json:"destinationPort" validate:"required,min=1,max=65535"`
	DCMObjs             []RequestStudy `json:"DCMObjs" validate:"required,min=1,dive"`
}

// RequestStudy is the study level of a forward request.
type RequestStudy struct {
	StudyInstanceUID string          `json:"studyInstanceUID" validate:"required"`
	Series           []RequestSeries `json:"series" validate:"required,min=1,dive"`
}

// RequestSeries is the series level of a forward request.
type RequestSeries struct {
	SeriesInstanceUID string       `json:"seriesInstanceUID" validate:"required"`
	SOPs              []RequestSOP `json:"SOPs" validate:"required,min=1,dive"`
}

// RequestSOP locates one instance in the blob store.
type RequestSOP struct {
	SOPInstanceUID string `json:"sopInstanceUID" validate:"required"`
	RootDirectory  string `json:"rootDirectory"`
}

// Port accepts a JSON number or a numeric string.
type Port int

func (p *Port) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	if s == "" || s == "null" {
		*p = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid port %s", data)
	}
	*p = Port(n)
	return nil
}

// Leaf is one requested instance with its parent identifiers.
type Leaf struct {
	StudyUID       string
	SeriesUID      string
	SOPInstanceUID string
	RootDirectory  string
}

// Leaves flattens the request tree in document order.
func (r *ForwardRequest) Leaves() []Leaf {
	var out []Leaf
	for _, st := range r.DCMObjs {
		for _, se := range st.Series {
			for _, sop := range se.SOPs {
				out = append(out, Leaf{
					StudyUID:       st.StudyInstanceUID,
					SeriesUID:      se.SeriesInstanceUID,
					SOPInstanceUID: sop.SOPInstanceUID,
					RootDirectory:  sop.RootDirectory,
				})
			}
		}
	}
	return out
}

var validate = validator.New()

// ParseForwardRequest decodes and validates a forward-request body. Every
// failure is MalformedInput.
func ParseForwardRequest(body string) (*ForwardRequest, error) {
	var req ForwardRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return nil, errkind.Malformed("intake.parse", "decode forward request: %v", err)
	}
	if err := validate.Struct(&req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, errkind.Malformed("intake.parse", "field %s failed %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return nil, errkind.Malformed("intake.parse", "validate forward request: %v", err)
	}
	return &req, nil
}
