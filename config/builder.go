package config

import (
	"fmt"
	"sort"

	"github.com/jpalmerr/pollwatch"
)

// BuildWatches converts a parsed configuration into SDK watches, in file
// order.
func BuildWatches(cfg *Config) ([]pollwatch.Watch, error) {
	watches := make([]pollwatch.Watch, 0, len(cfg.Watches))
	for _, wc := range cfg.Watches {
		w, err := buildWatch(wc)
		if err != nil {
			return nil, fmt.Errorf("watch %q: %w", wc.Name, err)
		}
		watches = append(watches, w)
	}
	return watches, nil
}

func buildWatch(wc WatchConfig) (pollwatch.Watch, error) {
	var opts []pollwatch.WatchOption

	if wc.Method != "" {
		opts = append(opts, pollwatch.WithMethod(wc.Method))
	}
	if wc.Timeout != 0 {
		opts = append(opts, pollwatch.WithTimeout(wc.Timeout.Duration()))
	}
	if len(wc.Headers) > 0 {
		opts = append(opts, pollwatch.WithHeaders(mapToKeyValuePairs(wc.Headers)...))
	}
	if len(wc.Labels) > 0 {
		opts = append(opts, pollwatch.WithLabels(mapToKeyValuePairs(wc.Labels)...))
	}
	if wc.Interval != 0 {
		opts = append(opts, pollwatch.WithInterval(wc.Interval.Duration()))
	}

	cond, err := buildCondition(wc.Until)
	if err != nil {
		return pollwatch.Watch{}, err
	}
	if cond != nil {
		opts = append(opts, pollwatch.WithCondition(cond))
	}

	return pollwatch.NewWatch(wc.Name, wc.URL, opts...)
}

// mapToKeyValuePairs flattens m into sorted key/value pairs.
func mapToKeyValuePairs(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(m)*2)
	for _, k := range keys {
		pairs = append(pairs, k, m[k])
	}
	return pairs
}

// buildCondition returns nil for an empty until, leaving the SDK default.
func buildCondition(u UntilConfig) (pollwatch.Condition, error) {
	switch u.Type {
	case "":
		return nil, nil
	case UntilForever:
		return pollwatch.PollForever, nil
	case UntilJSON:
		return pollwatch.UntilJSONField(u.Path, u.Values...), nil
	case UntilContains:
		return pollwatch.UntilContains(u.Text), nil
	case UntilStatus:
		return pollwatch.UntilStatusCode(u.Codes...), nil
	case UntilRegex:
		return pollwatch.UntilRegex(u.Pattern, u.Match)
	default:
		return nil, fmt.Errorf("unknown condition type %q", u.Type)
	}
}
