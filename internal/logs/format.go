package logs

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"dubforge/internal/logging"
)

// hidden keys are either shown in the prefix or repeat on every line.
var hidden = []string{"ts", "level", "msg", "source", logging.FieldComponent, logging.FieldJobID, logging.FieldStage, logging.FieldSegment}

// Format renders a JSON log line as "15:04:05 LEVEL [stage#seg] msg k=v".
// Lines that are not JSON objects are returned unchanged.
func Format(line string) string {
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		return line
	}

	var b strings.Builder
	if ts, ok := entry["ts"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			ts = parsed.Local().Format("15:04:05")
		}
		b.WriteString(ts)
		b.WriteByte(' ')
	}
	level, _ := entry["level"].(string)
	fmt.Fprintf(&b, "%-5s ", strings.ToUpper(level))
	if stage, ok := entry[logging.FieldStage].(string); ok && stage != "" {
		b.WriteString("[" + stage)
		if seg, ok := entry[logging.FieldSegment].(float64); ok {
			fmt.Fprintf(&b, "#%d", int(seg))
		}
		b.WriteString("] ")
	}
	msg, _ := entry["msg"].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(entry))
	for key := range entry {
		if !slices.Contains(hidden, key) {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	for _, key := range keys {
		fmt.Fprintf(&b, " %s=%v", key, entry[key])
	}
	return b.String()
}
