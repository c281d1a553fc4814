package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	nethttp "net/http"
	"slices"
	"strings"

	apihttp "github.com/gaborage/apicall/http"
)

// writeResult prints a decoded body as indented JSON and a text body as is.
// A full response is printed as a status line, headers, a blank line and the
// raw body, followed by the call statistics.
func writeResult(w io.Writer, res *apihttp.Result) error {
	if res == nil {
		return nil
	}
	if r := res.Response; r != nil {
		fmt.Fprintf(w, "HTTP %d %s\n", r.StatusCode, nethttp.StatusText(r.StatusCode))
		for _, key := range slices.Sorted(maps.Keys(r.Headers)) {
			fmt.Fprintf(w, "%s: %s\n", key, strings.Join(r.Headers[key], ", "))
		}
		fmt.Fprintln(w)
		if len(r.Body) > 0 {
			fmt.Fprintln(w, strings.TrimRight(string(r.Body), "\n"))
		}
		fmt.Fprintf(w, "# attempts=%d elapsed=%s call_id=%s\n", r.Stats.Attempts, r.Stats.ElapsedTime, r.Stats.CallID)
		return nil
	}

	switch body := res.Body.(type) {
	case nil:
		return nil
	case string:
		_, err := fmt.Fprintln(w, strings.TrimRight(body, "\n"))
		return err
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(body)
	}
}
