package download

import "fmt"

// Outcome is the single terminal result of one pull
type Outcome struct {
	JobID     string `json:"job_id"`
	Model     string `json:"model"`
	Succeeded bool   `json:"succeeded"`
	Message   string `json:"message,omitempty"`
}

func succeeded() Outcome {
	return Outcome{Succeeded: true}
}

func failed(message string) Outcome {
	return Outcome{Message: message}
}

func exitStatusMessage(code int) string {
	return fmt.Sprintf("download failed with exit status %d", code)
}

func (o Outcome) String() string {
	if o.Succeeded {
		return "succeeded"
	}
	return "failed: " + o.Message
}
