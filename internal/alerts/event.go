package alerts

import (
	"fmt"
	"sort"
	"strings"
)

// PhaseEvent describes a market phase change for operators.
type PhaseEvent struct {
	Market  string
	Phase   string
	Account string
	Winner  string
	// Values holds the resolved absolute outcome per project key.
	Values map[string]float64
}

func (e PhaseEvent) Message() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] market %s", strings.ToUpper(e.Phase), e.Market)
	if e.Account != "" {
		fmt.Fprintf(&b, " by %s", e.Account)
	}
	if e.Winner != "" {
		fmt.Fprintf(&b, "\nfunded: %s", e.Winner)
	}
	if len(e.Values) > 0 {
		keys := make([]string, 0, len(e.Values))
		for k := range e.Values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "\n%s = %g", k, e.Values[k])
		}
	}
	return b.String()
}
