// Package render writes API responses in the negotiated format. Every successful body is
// the envelope {"data": payload}; every error body is {"data": {"error": {"code", "message"}}}.
// JSON goes through encoding/json with mapping order preserved by serializer.Map, XML goes
// through the structural serializer, so both formats carry the same content.
package render

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/missionsdata/missions-api/internal/serializer"
	"github.com/missionsdata/missions-api/internal/telemetry"
)

// Format is a response encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatXML  Format = "xml"
)

const (
	mimeJSON = "application/json; charset=utf-8"
	mimeXML  = "application/xml; charset=utf-8"
)

// Negotiate picks the response format: a .json or .xml path extension wins, then the
// "format" query parameter, then the Accept header. Anything else is JSON.
func Negotiate(c *gin.Context) Format {
	if _, f, ok := SplitExtension(c.Request.URL.Path); ok {
		return f
	}
	switch strings.ToLower(strings.TrimSpace(c.Query("format"))) {
	case string(FormatXML):
		return FormatXML
	case string(FormatJSON):
		return FormatJSON
	}
	if c.GetHeader("Accept") != "" {
		switch c.NegotiateFormat(gin.MIMEJSON, gin.MIMEXML, gin.MIMEXML2) {
		case gin.MIMEXML, gin.MIMEXML2:
			return FormatXML
		}
	}
	return FormatJSON
}

// SplitExtension strips a trailing .json or .xml from s.
func SplitExtension(s string) (string, Format, bool) {
	switch {
	case strings.HasSuffix(s, ".json"):
		return strings.TrimSuffix(s, ".json"), FormatJSON, true
	case strings.HasSuffix(s, ".xml"):
		return strings.TrimSuffix(s, ".xml"), FormatXML, true
	}
	return s, "", false
}

// Renderer writes envelopes. The zero value uses the serializer's default wrapper tags.
type Renderer struct {
	defaults []serializer.Option
}

// New creates a Renderer whose XML output uses the given wrapper tags when data is a
// sequence. Two empty tags keep the serializer defaults.
func New(collectionTag, itemTag string) *Renderer {
	return &Renderer{defaults: []serializer.Option{serializer.WithWrapperTags(collectionTag, itemTag)}}
}

// Data writes {"data": payload} with the given status. opts override the renderer's
// default wrapper tags for this response.
func (r *Renderer) Data(c *gin.Context, status int, payload any, opts ...serializer.Option) {
	envelope := serializer.Map{{Key: serializer.DataKey, Value: payload}}
	r.write(c, status, envelope, append(append([]serializer.Option{}, r.defaults...), opts...))
}

// Error writes the error envelope for status with a caller-safe message.
func (r *Renderer) Error(c *gin.Context, status int, message string) {
	r.write(c, status, errorEnvelope(status, message), nil)
}

// Abort writes the error envelope and stops the handler chain.
func (r *Renderer) Abort(c *gin.Context, status int, message string) {
	r.Error(c, status, message)
	c.Abort()
}

func errorEnvelope(status int, message string) serializer.Map {
	return serializer.Map{{Key: serializer.DataKey, Value: serializer.Map{
		{Key: "error", Value: serializer.Map{
			{Key: "code", Value: status},
			{Key: "message", Value: message},
		}},
	}}}
}

func (r *Renderer) write(c *gin.Context, status int, envelope serializer.Map, opts []serializer.Option) {
	if Negotiate(c) == FormatXML {
		doc, err := serializer.Serialize(envelope, opts...)
		if err != nil {
			r.internalError(c, err)
			return
		}
		c.Data(status, mimeXML, []byte(doc))
		return
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		r.internalError(c, err)
		return
	}
	c.Data(status, mimeJSON, body)
}

// internalError logs err and writes a masked 500. The error envelope itself always
// serializes, so this never recurses.
func (r *Renderer) internalError(c *gin.Context, err error) {
	var serr *serializer.SerializationError
	if errors.As(err, &serr) {
		telemetry.SerializationErrorsTotal.Inc()
	}
	requestID, _ := c.Get("request_id")
	slog.ErrorContext(c.Request.Context(), "failed to encode response",
		"error", err,
		"path", c.Request.URL.Path,
		"request_id", requestID,
	)
	r.write(c, http.StatusInternalServerError, errorEnvelope(http.StatusInternalServerError, "internal server error"), nil)
}
