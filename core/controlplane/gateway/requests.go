package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/refereehq/referee/core/canary"
)

type createSessionRequest struct {
	Config *canary.Config `json:"config"`
}

// valueRequest carries a text field update. Value is a pointer so an empty
// string reaches the store instead of failing validation.
type valueRequest struct {
	Value *string `json:"value" validate:"required"`
}

type selectGroupRequest struct {
	Name string `json:"name" validate:"required,max=256"`
}

type renameGroupRequest struct {
	Name *string `json:"name" validate:"required"`
}

// weightRequest accepts the weight as a JSON number or as raw text typed by
// the user.
type weightRequest struct {
	Weight json.RawMessage `json:"weight" validate:"required"`
}

type metricRequest struct {
	Metric   canary.Metric `json:"metric"`
	Existing *string       `json:"existing" validate:"omitempty,max=256"`
}

type touchRequest struct {
	ID string `json:"id" validate:"required,max=256"`
}

type exportRequest struct {
	Retention string `json:"retention" validate:"omitempty,oneof=short standard audit"`
}

type saveRequest struct {
	ID string `json:"id" validate:"omitempty,max=128,excludesall=/"`
}

type errorResponse struct {
	Error      string   `json:"error"`
	Violations []string `json:"violations,omitempty"`
}

// decode reads a JSON body into dst and validates it. An empty body is
// accepted when optional is set.
func (s *server) decode(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if !(optional && errors.Is(err, io.EOF)) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json"})
			return false
		}
	}
	if err := s.validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request", Violations: validationMessages(err)})
		return false
	}
	return true
}

func validationMessages(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fmt.Sprintf("%s: failed %q", strings.ToLower(fe.Field()), fe.Tag())
		if fe.Param() != "" {
			msg += " (" + fe.Param() + ")"
		}
		out = append(out, msg)
	}
	return out
}

// parseWeight returns the numeric weight, or the raw text when the client sent
// a string. Numbers outside the float64 range come back as text so the store
// reports them on the weight field.
func parseWeight(raw json.RawMessage) (float64, string, bool, error) {
	token := strings.TrimSpace(string(raw))
	if token == "null" {
		return 0, "", false, errors.New("weight must be a number or a string")
	}
	var num float64
	if err := json.Unmarshal(raw, &num); err == nil {
		return num, "", false, nil
	}
	if isJSONNumber(token) {
		return 0, token, true, nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return 0, text, true, nil
	}
	return 0, "", false, errors.New("weight must be a number or a string")
}

func isJSONNumber(token string) bool {
	if token == "" || !json.Valid([]byte(token)) {
		return false
	}
	c := token[0]
	return c == '-' || (c >= '0' && c <= '9')
}
