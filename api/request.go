package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/benjaminclauss/stationboard/registry"
)

// maxRequestBodySize limits request bodies.
const maxRequestBodySize = 1 << 20

// Required fields are pointers so that an absent field can be told apart from a zero value.

type addVehicleRequest struct {
	Station   *string     `json:"station"`
	Plate     *plateToken `json:"plate"`
	NoPenalty *bool       `json:"no_penalty"`
}

func (r addVehicleRequest) validate() error {
	if err := requireString("station", r.Station); err != nil {
		return err
	}
	return requirePlate(r.Plate)
}

type updateVehicleRequest struct {
	Status *string `json:"status"`
}

func (r updateVehicleRequest) validate() error {
	return requireString("status", r.Status)
}

type transferRequest struct {
	Origin      *string     `json:"origin"`
	Destination *string     `json:"destination"`
	Plate       *plateToken `json:"plate"`
}

func (r transferRequest) validate() error {
	if err := requireString("origin", r.Origin); err != nil {
		return err
	}
	if err := requireString("destination", r.Destination); err != nil {
		return err
	}
	return requirePlate(r.Plate)
}

// plateToken accepts a plate sent either as a JSON string or as a JSON number.
type plateToken string

func (p *plateToken) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = plateToken(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("plate must be a string or a number")
	}
	*p = plateToken(n.String())
	return nil
}

func requireString(name string, v *string) error {
	if v == nil || strings.TrimSpace(*v) == "" {
		return registry.MissingField(name)
	}
	return nil
}

func requirePlate(p *plateToken) error {
	if p == nil || strings.TrimSpace(string(*p)) == "" {
		return registry.MissingField("plate")
	}
	return nil
}

// decode reads exactly one JSON object into dst, rejecting unknown fields.
func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return &registry.Error{Code: registry.CodeMissingField, Message: "request body is required"}
		}
		return &registry.Error{Code: registry.CodeInvalidFormat, Message: "invalid request body: " + err.Error()}
	}
	if dec.More() {
		return &registry.Error{Code: registry.CodeInvalidFormat, Message: "invalid request body: unexpected trailing data"}
	}
	return nil
}
