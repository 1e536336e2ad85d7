package proxy

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/l0p7/frontproxy/internal/upstream"
)

// ErrMalformedXML is returned when an XML upstream body is not well formed.
var ErrMalformedXML = errors.New("proxy: malformed xml body")

// ErrMalformedJSON is returned when a JSON upstream body cannot be decoded.
var ErrMalformedJSON = errors.New("proxy: malformed json body")

// mediaFamily is the closed set of content families the API interpreter knows.
type mediaFamily int

const (
	familyBinary mediaFamily = iota
	familyJSON
	familyText
	familyXML
)

func classifyMedia(contentType string) mediaFamily {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return familyBinary
	}
	switch {
	case mediaType == "application/json", strings.HasPrefix(mediaType, "application/") && strings.HasSuffix(mediaType, "+json"):
		return familyJSON
	case mediaType == "text/html", mediaType == "text/plain":
		return familyText
	case mediaType == "application/xml", mediaType == "text/xml", strings.HasPrefix(mediaType, "application/") && strings.HasSuffix(mediaType, "+xml"):
		return familyXML
	default:
		return familyBinary
	}
}

// apiReply is the outbound form of an interpreted API response.
type apiReply struct {
	status   int
	header   http.Header
	body     []byte
	redirect string
}

type errorEnvelope struct {
	Status int      `json:"status"`
	Errors []string `json:"errors"`
	Alerts []string `json:"alerts"`
}

// interpretAPI turns a raw backend response into the proxy reply. route is
// the request path below /api, used to name attachments.
func interpretAPI(resp *upstream.Response, route, fallback string) (apiReply, error) {
	if resp.Signal() == upstream.SignalRedirect {
		if location := resp.Header.Get("Location"); location != "" {
			return apiReply{status: redirectStatus(resp.Status), redirect: location}, nil
		}
	}

	if resp.Status >= 500 && !json.Valid(resp.Body) {
		body, err := json.Marshal(errorEnvelope{Status: http.StatusBadRequest, Errors: []string{fallback}, Alerts: []string{}})
		if err != nil {
			return apiReply{}, err
		}
		return apiReply{status: http.StatusBadRequest, header: contentHeader("application/json"), body: body}, nil
	}

	contentType := resp.ContentType()
	switch classifyMedia(contentType) {
	case familyJSON:
		body, err := reencodeJSON(resp.Body)
		if err != nil {
			return apiReply{}, err
		}
		return apiReply{status: resp.Status, header: contentHeader("application/json"), body: body}, nil
	case familyText:
		return apiReply{status: resp.Status, header: contentHeader(contentType), body: resp.Body}, nil
	case familyXML:
		if err := checkXML(resp.Body); err != nil {
			return apiReply{}, err
		}
		return apiReply{status: resp.Status, header: contentHeader(contentType), body: resp.Body}, nil
	default:
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		header := contentHeader(contentType)
		header.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
			"filename": attachmentName(resp.Header, route),
		}))
		return apiReply{status: resp.Status, header: header, body: resp.Body}, nil
	}
}

// redirectStatus keeps permanent and method-preserving redirects, folding the
// rest into 302.
func redirectStatus(status int) int {
	switch status {
	case http.StatusMovedPermanently, http.StatusSeeOther, http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return status
	default:
		return http.StatusFound
	}
}

func contentHeader(contentType string) http.Header {
	h := http.Header{}
	h.Set("Content-Type", contentType)
	return h
}

func reencodeJSON(body []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data", ErrMalformedJSON)
	}
	return json.Marshal(payload)
}

// checkXML walks every token so unbalanced or truncated documents fail.
// The verified bytes are served as-is: re-encoding with encoding/xml would
// rewrite namespace prefixes.
func checkXML(body []byte) error {
	dec := xml.NewDecoder(bytes.NewReader(body))
	sawRoot := false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedXML, err)
		}
		if _, ok := tok.(xml.StartElement); ok {
			sawRoot = true
		}
	}
	if !sawRoot {
		return fmt.Errorf("%w: no root element", ErrMalformedXML)
	}
	return nil
}

// attachmentName prefers the filename of the cache-disposition header, then
// content-disposition, then the last route segment.
func attachmentName(header http.Header, route string) string {
	for _, name := range []string{"Cache-Disposition", "Content-Disposition"} {
		value := header.Get(name)
		if value == "" {
			continue
		}
		if _, params, err := mime.ParseMediaType(value); err == nil {
			if filename := path.Base(strings.TrimSpace(params["filename"])); filename != "" && filename != "." && filename != "/" {
				return filename
			}
		}
	}
	if segment := path.Base(strings.Trim(route, "/")); segment != "" && segment != "." && segment != "/" {
		return segment
	}
	return "download"
}
