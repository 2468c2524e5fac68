// Package publish stores finished blends with a result page so they can be
// shared and listed in the feed.
package publish

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/abhisheksharma026/Blended-Diffusion/internal/blend"
)

// RecordSuffix names the object holding a published Record.
const RecordSuffix = ".json"

type Record struct {
	ID      uuid.UUID    `json:"id"`
	Params  blend.Params `json:"params"`
	Model   string       `json:"model"`
	Created time.Time    `json:"created"`
	Image   image.Image  `json:"-"`
}

func NewRecord(params blend.Params, model string, img image.Image) Record {
	return Record{
		ID:      uuid.New(),
		Params:  params,
		Model:   model,
		Created: time.Now().UTC(),
		Image:   img,
	}
}

func (r Record) Name() string { return r.ID.String() }

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// Metadata is attached to every uploaded object of the record. Prompts are
// left out; they live in the record object.
func (r Record) Metadata() map[string]string {
	return map[string]string{
		"id":       r.ID.String(),
		"alpha":    formatFloat(r.Params.Alpha),
		"guidance": formatFloat(r.Params.Guidance),
		"seed":     strconv.FormatInt(r.Params.Seed, 10),
		"created":  r.Created.Format(time.RFC3339),
	}
}

// ParseRecord reads a record object written by Publish. The image is left
// nil.
func ParseRecord(b []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return Record{}, fmt.Errorf("parse record: %w", err)
	}
	if r.ID == uuid.Nil {
		return Record{}, errors.New("parse record: missing id")
	}
	return r, nil
}
