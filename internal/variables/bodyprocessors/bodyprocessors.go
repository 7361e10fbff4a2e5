package bodyprocessors

import (
	"mime"
	"strings"

	"github.com/veilwaf/veil/internal/variables"
)

// Processor extracts arguments from a buffered request body into the store.
// A returned error means the body was only partially understood; whatever
// was extracted before the failure stays in the store.
type Processor interface {
	ProcessRequest(body []byte, contentType string, store *variables.Store) error
}

const (
	URLEncoded = "URLENCODED"
	JSON       = "JSON"
	Multipart  = "MULTIPART"
)

var registry = map[string]Processor{
	URLEncoded: urlencodedProcessor{},
	JSON:       jsonProcessor{maxDepth: defaultJSONDepth},
	Multipart:  multipartProcessor{},
}

func Get(name string) (Processor, bool) {
	p, ok := registry[strings.ToUpper(name)]
	return p, ok
}

// ForContentType picks a processor name from a Content-Type header value.
func ForContentType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	}
	switch {
	case mediaType == "application/x-www-form-urlencoded":
		return URLEncoded
	case mediaType == "multipart/form-data":
		return Multipart
	case mediaType == "application/json", strings.HasSuffix(mediaType, "+json"):
		return JSON
	default:
		return ""
	}
}

type urlencodedProcessor struct{}

func (urlencodedProcessor) ProcessRequest(body []byte, _ string, store *variables.Store) error {
	var firstErr error
	variables.ParseQuery(string(body), func(key, value string) {
		if err := store.Add(variables.ArgsPost, key, value); err != nil && firstErr == nil {
			firstErr = err
		}
	})
	return firstErr
}
