package stages

import (
	"fmt"
	"io"
	"strings"
)

// View is the display form of one stage. Every flag is derived from the
// stage's own status; the current-index hint is carried but never consulted.
type View struct {
	Number      int    `json:"number"`
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      Status `json:"status"`

	Current         bool   `json:"current"`
	Spinner         bool   `json:"spinner"`
	Done            bool   `json:"done"`
	Failed          bool   `json:"failed"`
	Badge           string `json:"badge,omitempty"`
	HasConnector    bool   `json:"has_connector"`
	ConnectorFilled bool   `json:"connector_filled"`
}

// Render turns a stage list into views.
func Render(s []Stage, current int) []View {
	views := make([]View, len(s))
	for i, st := range s {
		v := View{
			Number:      i + 1,
			ID:          st.ID,
			Title:       st.Title,
			Description: st.Description,
			Status:      st.Status,
			Current:     i == current,
			Spinner:     st.Status == Processing,
			Done:        st.Status == Completed,
			Failed:      st.Status == Error,
		}
		if v.Done {
			v.Badge = "Complete"
		}
		if i < len(s)-1 {
			v.HasConnector = true
			v.ConnectorFilled = s[i+1].Status == Completed
		}
		views[i] = v
	}
	return views
}

func (v View) marker() string {
	switch {
	case v.Done:
		return "[x]"
	case v.Spinner:
		return "[~]"
	case v.Failed:
		return "[!]"
	default:
		return fmt.Sprintf("[%d]", v.Number)
	}
}

// RenderText writes one line per stage for terminal output.
func RenderText(w io.Writer, views []View) error {
	var b strings.Builder
	for _, v := range views {
		fmt.Fprintf(&b, "%s %-17s %s", v.marker(), v.Title, v.Description)
		if v.Badge != "" {
			fmt.Fprintf(&b, " (%s)", v.Badge)
		}
		b.WriteByte('\n')
	}
	_, err := io.WriteString(w, b.String())
	return err
}
