package variables

import (
	"errors"
	"path"
	"strconv"
	"strings"
)

// SetConnection records the connection endpoints.
func (s *Store) SetConnection(clientIP string, clientPort int, serverIP string, serverPort int) error {
	return errors.Join(
		s.SetSingle(RemoteAddr, clientIP),
		s.SetSingle(RemotePort, strconv.Itoa(clientPort)),
		s.SetSingle(ServerAddr, serverIP),
		s.SetSingle(ServerPort, strconv.Itoa(serverPort)),
	)
}

// SetRequestLine populates the request-line variables and ARGS_GET. The URI is
// taken as sent; an absolute-form URI keeps its scheme and host only in
// REQUEST_URI_RAW.
func (s *Store) SetRequestLine(method, uri, protocol string) error {
	relative := uri
	if i := strings.Index(relative, "://"); i > 0 {
		rest := relative[i+3:]
		if slash := strings.IndexByte(rest, '/'); slash >= 0 {
			relative = rest[slash:]
		} else {
			relative = "/"
		}
	}

	rawPath, query, _ := strings.Cut(relative, "?")
	if frag := strings.IndexByte(query, '#'); frag >= 0 {
		query = query[:frag]
	}
	filename := Unescape(strings.ReplaceAll(rawPath, "+", "%2B"))

	errs := []error{
		s.SetSingle(RequestMethod, method),
		s.SetSingle(RequestProtocol, protocol),
		s.SetSingle(RequestLine, strings.TrimSpace(method+" "+uri+" "+protocol)),
		s.SetSingle(RequestURI, relative),
		s.SetSingle(RequestURIRaw, uri),
		s.SetSingle(RequestFilename, filename),
		s.SetSingle(RequestBasename, basename(filename)),
		s.SetSingle(QueryString, query),
	}
	ParseQuery(query, func(key, value string) {
		errs = append(errs, s.Add(ArgsGet, key, value))
	})
	return errors.Join(errs...)
}

func basename(p string) string {
	if p == "" {
		return ""
	}
	p = strings.ReplaceAll(p, "\\", "/")
	if strings.HasSuffix(p, "/") {
		return ""
	}
	return path.Base(p)
}

// AddRequestHeader appends a request header; Cookie headers also populate REQUEST_COOKIES.
func (s *Store) AddRequestHeader(key, value string) error {
	if err := s.Add(RequestHeaders, key, value); err != nil {
		return err
	}
	if !strings.EqualFold(key, "cookie") {
		return nil
	}
	var errs []error
	for _, part := range strings.Split(value, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, val, _ := strings.Cut(part, "=")
		errs = append(errs, s.Add(RequestCookies, strings.TrimSpace(name), strings.TrimSpace(val)))
	}
	return errors.Join(errs...)
}

// SetResponseStatus records the response status line.
func (s *Store) SetResponseStatus(code int, protocol string) error {
	return errors.Join(
		s.SetSingle(ResponseStatus, strconv.Itoa(code)),
		s.SetSingle(ResponseProtocol, protocol),
	)
}

func (s *Store) AddResponseHeader(key, value string) error {
	return s.Add(ResponseHeaders, key, value)
}

// SetResponseBody stores the (possibly truncated) response body and its length.
func (s *Store) SetResponseBody(body []byte) error {
	return errors.Join(
		s.SetSingle(ResponseBody, string(body)),
		s.SetSingle(ResponseContentLength, strconv.Itoa(len(body))),
	)
}
