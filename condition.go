package pollwatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrUnexpectedStatus is wrapped by the error a built-in condition returns
// for a non-2xx response it was not told to accept.
var ErrUnexpectedStatus = errors.New("unexpected status code")

// Condition decides, from one HTTP response, what the watch does next:
//
//   - (true, nil): keep polling after the interval
//   - (false, nil): stop polling; the watch finished
//   - (_, err): stop polling and record err as the watch's last error
//
// Conditions are called inside a panic recovery boundary. A panic is logged
// with its stack under a correlation id and recorded as a failure.
type Condition func(body []byte, statusCode int) (bool, error)

// PollForever keeps polling while responses are 2xx and fails otherwise.
var PollForever Condition = func(_ []byte, statusCode int) (bool, error) {
	if err := checkStatus(statusCode); err != nil {
		return false, err
	}
	return true, nil
}

// DefaultCondition is used by watches created without [WithCondition].
var DefaultCondition = PollForever

// UntilJSONField stops polling once the JSON field at path (dot notation,
// e.g. "job.state") equals one of values, compared case-insensitively.
//
// A missing field keeps polling. A body that is not JSON is a failure.
// Booleans compare as "true"/"false" and numbers in their shortest form.
//
//	pollwatch.UntilJSONField("state", "FINISHED", "FAILED", "CANCELLED")
func UntilJSONField(path string, values ...string) Condition {
	parts := strings.Split(path, ".")

	return func(body []byte, statusCode int) (bool, error) {
		if err := checkStatus(statusCode); err != nil {
			return false, err
		}

		var data interface{}
		if err := json.Unmarshal(body, &data); err != nil {
			return false, fmt.Errorf("response is not valid JSON: %w", err)
		}

		value, ok := extractJSONPath(data, parts)
		if !ok {
			return true, nil
		}
		for _, v := range values {
			if strings.EqualFold(value, v) {
				return false, nil
			}
		}
		return true, nil
	}
}

// extractJSONPath walks a decoded JSON value using dot notation parts.
func extractJSONPath(data interface{}, parts []string) (string, bool) {
	current := data

	for _, part := range parts {
		obj, ok := current.(map[string]interface{})
		if !ok {
			return "", false
		}
		current, ok = obj[part]
		if !ok {
			return "", false
		}
	}

	switch v := current.(type) {
	case string:
		return v, true
	case bool:
		return strconv.FormatBool(v), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	default:
		return "", false
	}
}

// UntilContains stops polling once the body contains text, ignoring case.
func UntilContains(text string) Condition {
	lower := strings.ToLower(text)
	return func(body []byte, statusCode int) (bool, error) {
		if err := checkStatus(statusCode); err != nil {
			return false, err
		}
		return !strings.Contains(strings.ToLower(string(body)), lower), nil
	}
}

// UntilStatusCode stops polling once the response status is one of codes.
// Listed codes are accepted even when not 2xx, so a watch can wait for a
// resource to disappear with UntilStatusCode(404).
func UntilStatusCode(codes ...int) Condition {
	stop := make(map[int]bool, len(codes))
	for _, c := range codes {
		stop[c] = true
	}
	return func(_ []byte, statusCode int) (bool, error) {
		if stop[statusCode] {
			return false, nil
		}
		if err := checkStatus(statusCode); err != nil {
			return false, err
		}
		return true, nil
	}
}

// UntilRegex stops polling once the first capture group of pattern equals
// stopMatch, ignoring case. No match keeps polling.
//
// Returns an error if the pattern is invalid or has no capture group.
//
//	cond, err := pollwatch.UntilRegex(`"phase":\s*"(\w+)"`, "done")
func UntilRegex(pattern, stopMatch string) (Condition, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	if re.NumSubexp() < 1 {
		return nil, errors.New("pattern must contain a capture group")
	}

	return func(body []byte, statusCode int) (bool, error) {
		if err := checkStatus(statusCode); err != nil {
			return false, err
		}
		matches := re.FindSubmatch(body)
		if len(matches) < 2 {
			return true, nil
		}
		return !strings.EqualFold(string(matches[1]), stopMatch), nil
	}, nil
}

// MustUntilRegex is like [UntilRegex] but panics on an invalid pattern.
// Use it for constant patterns.
func MustUntilRegex(pattern, stopMatch string) Condition {
	cond, err := UntilRegex(pattern, stopMatch)
	if err != nil {
		panic("pollwatch: invalid regex pattern: " + err.Error())
	}
	return cond
}

// AnyStop combines conditions: polling stops when any of them says stop.
// If none does, the first error among them fails the invocation.
//
//	pollwatch.AnyStop(
//	    pollwatch.UntilJSONField("state", "FINISHED"),
//	    pollwatch.UntilStatusCode(http.StatusGone),
//	)
func AnyStop(conds ...Condition) Condition {
	return func(body []byte, statusCode int) (bool, error) {
		var firstErr error
		for _, cond := range conds {
			cont, err := cond(body, statusCode)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			if !cont {
				return false, nil
			}
		}
		if firstErr != nil {
			return false, firstErr
		}
		return true, nil
	}
}

func checkStatus(code int) error {
	if code >= 200 && code < 300 {
		return nil
	}
	return fmt.Errorf("%w %d", ErrUnexpectedStatus, code)
}
