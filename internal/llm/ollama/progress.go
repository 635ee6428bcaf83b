package ollama

import (
	"encoding/json"

	"github.com/calder-ai/modelgate/pkg/api"
)

func unmarshalProgress(line string, p *api.PullProgress) error {
	// Pull streams occasionally interleave error objects with
	// progress; surface those as data, not decode failures.
	var raw struct {
		api.PullProgress
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return err
	}
	if raw.Error != "" {
		*p = api.PullProgress{Status: "error: " + raw.Error}
		return nil
	}
	*p = raw.PullProgress
	return nil
}
