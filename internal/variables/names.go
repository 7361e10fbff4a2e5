package variables

import (
	"strings"

	"github.com/veilwaf/veil/internal/types"
)

// Name identifies a variable or collection exposed to rules.
type Name uint8

const (
	Unknown Name = iota

	RemoteAddr
	RemotePort
	ServerAddr
	ServerPort
	UniqueID

	RequestMethod
	RequestProtocol
	RequestLine
	RequestURI
	RequestURIRaw
	RequestFilename
	RequestBasename
	QueryString
	ArgsGet
	ArgsGetNames
	RequestHeaders
	RequestHeadersNames
	RequestCookies
	RequestCookiesNames

	RequestBody
	RequestBodyLength
	ReqbodyError
	ReqbodyErrorMsg
	ReqbodyProcessor
	ArgsPost
	ArgsPostNames
	Files
	FilesNames

	Args
	ArgsNames
	ArgsCombinedSize

	ResponseStatus
	ResponseProtocol
	ResponseHeaders
	ResponseHeadersNames
	ResponseBody
	ResponseContentLength

	TX
	MatchedVar
	MatchedVarName
	MatchedVars
	MatchedVarsNames

	nameCount
)

type kind uint8

const (
	kindSingle kind = iota
	kindMap
	kindNames
	kindArgs
	kindArgsNames
	kindCombinedSize
)

type descriptor struct {
	name string
	kind kind
	// source is the backing collection of a *_NAMES view.
	source Name
	// owner is the phase that populates the variable; zero means engine managed.
	owner         types.Phase
	caseSensitive bool
}

var descriptors = [nameCount]descriptor{
	Unknown: {name: "UNKNOWN"},

	RemoteAddr: {name: "REMOTE_ADDR", owner: types.PhaseRequestHeaders},
	RemotePort: {name: "REMOTE_PORT", owner: types.PhaseRequestHeaders},
	ServerAddr: {name: "SERVER_ADDR", owner: types.PhaseRequestHeaders},
	ServerPort: {name: "SERVER_PORT", owner: types.PhaseRequestHeaders},
	UniqueID:   {name: "UNIQUE_ID", owner: types.PhaseRequestHeaders},

	RequestMethod:       {name: "REQUEST_METHOD", owner: types.PhaseRequestHeaders},
	RequestProtocol:     {name: "REQUEST_PROTOCOL", owner: types.PhaseRequestHeaders},
	RequestLine:         {name: "REQUEST_LINE", owner: types.PhaseRequestHeaders},
	RequestURI:          {name: "REQUEST_URI", owner: types.PhaseRequestHeaders},
	RequestURIRaw:       {name: "REQUEST_URI_RAW", owner: types.PhaseRequestHeaders},
	RequestFilename:     {name: "REQUEST_FILENAME", owner: types.PhaseRequestHeaders},
	RequestBasename:     {name: "REQUEST_BASENAME", owner: types.PhaseRequestHeaders},
	QueryString:         {name: "QUERY_STRING", owner: types.PhaseRequestHeaders},
	ArgsGet:             {name: "ARGS_GET", kind: kindMap, owner: types.PhaseRequestHeaders, caseSensitive: true},
	ArgsGetNames:        {name: "ARGS_GET_NAMES", kind: kindNames, source: ArgsGet},
	RequestHeaders:      {name: "REQUEST_HEADERS", kind: kindMap, owner: types.PhaseRequestHeaders},
	RequestHeadersNames: {name: "REQUEST_HEADERS_NAMES", kind: kindNames, source: RequestHeaders},
	RequestCookies:      {name: "REQUEST_COOKIES", kind: kindMap, owner: types.PhaseRequestHeaders, caseSensitive: true},
	RequestCookiesNames: {name: "REQUEST_COOKIES_NAMES", kind: kindNames, source: RequestCookies},

	RequestBody:       {name: "REQUEST_BODY", owner: types.PhaseRequestBody},
	RequestBodyLength: {name: "REQUEST_BODY_LENGTH", owner: types.PhaseRequestBody},
	ReqbodyError:      {name: "REQBODY_ERROR", owner: types.PhaseRequestBody},
	ReqbodyErrorMsg:   {name: "REQBODY_ERROR_MSG", owner: types.PhaseRequestBody},
	ReqbodyProcessor:  {name: "REQBODY_PROCESSOR", owner: types.PhaseRequestBody},
	ArgsPost:          {name: "ARGS_POST", kind: kindMap, owner: types.PhaseRequestBody, caseSensitive: true},
	ArgsPostNames:     {name: "ARGS_POST_NAMES", kind: kindNames, source: ArgsPost},
	Files:             {name: "FILES", kind: kindMap, owner: types.PhaseRequestBody, caseSensitive: true},
	FilesNames:        {name: "FILES_NAMES", kind: kindNames, source: Files},

	Args:             {name: "ARGS", kind: kindArgs},
	ArgsNames:        {name: "ARGS_NAMES", kind: kindArgsNames},
	ArgsCombinedSize: {name: "ARGS_COMBINED_SIZE", kind: kindCombinedSize},

	ResponseStatus:        {name: "RESPONSE_STATUS", owner: types.PhaseResponseHeaders},
	ResponseProtocol:      {name: "RESPONSE_PROTOCOL", owner: types.PhaseResponseHeaders},
	ResponseHeaders:       {name: "RESPONSE_HEADERS", kind: kindMap, owner: types.PhaseResponseHeaders},
	ResponseHeadersNames:  {name: "RESPONSE_HEADERS_NAMES", kind: kindNames, source: ResponseHeaders},
	ResponseBody:          {name: "RESPONSE_BODY", owner: types.PhaseResponseBody},
	ResponseContentLength: {name: "RESPONSE_CONTENT_LENGTH", owner: types.PhaseResponseBody},

	TX:               {name: "TX", kind: kindMap},
	MatchedVar:       {name: "MATCHED_VAR"},
	MatchedVarName:   {name: "MATCHED_VAR_NAME"},
	MatchedVars:      {name: "MATCHED_VARS", kind: kindMap, caseSensitive: true},
	MatchedVarsNames: {name: "MATCHED_VARS_NAMES", kind: kindNames, source: MatchedVars},
}

var byName = func() map[string]Name {
	m := make(map[string]Name, nameCount)
	for i := Name(1); i < nameCount; i++ {
		m[descriptors[i].name] = i
	}
	return m
}()

func (n Name) String() string {
	if n >= nameCount {
		return descriptors[Unknown].name
	}
	return descriptors[n].name
}

// Owner returns the phase responsible for populating the variable, or
// PhaseUnknown when the engine manages it.
func (n Name) Owner() types.Phase {
	if n >= nameCount {
		return types.PhaseUnknown
	}
	return descriptors[n].owner
}

// IsCollection reports whether the variable holds keyed values.
func (n Name) IsCollection() bool {
	if n >= nameCount {
		return false
	}
	return descriptors[n].kind != kindSingle && descriptors[n].kind != kindCombinedSize
}

// ParseName resolves a variable name case-insensitively.
func ParseName(raw string) (Name, bool) {
	n, ok := byName[strings.ToUpper(strings.TrimSpace(raw))]
	return n, ok
}
