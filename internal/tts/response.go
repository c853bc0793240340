package tts

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"ai-things/audio-go/internal/apierr"
)

const (
	maxErrorBody = 64 << 10
	maxJSONBody  = 64 << 20
)

// response is the set of body shapes vendors are known to return. classify picks the first
// variant that matches; anything else is ErrUnrecognizedResponse.
type response interface {
	variant() string
}

// audioBody is a raw audio stream (audio/* or application/octet-stream).
type audioBody struct {
	r io.Reader
}

// minimaxEnvelope carries hex-encoded audio plus a status block. HTTP 200 with a non-zero
// base_resp.status_code is a failure.
type minimaxEnvelope struct {
	Data *struct {
		Audio string `json:"audio"`
	} `json:"data"`
	BaseResp *struct {
		StatusCode int    `json:"status_code"`
		StatusMsg  string `json:"status_msg"`
	} `json:"base_resp"`
}

// base64Envelope is {"audioContent": ...} (Google REST) or {"audio_base64": ...}.
type base64Envelope struct {
	AudioContent string `json:"audioContent"`
	AudioBase64  string `json:"audio_base64"`
}

// errorEnvelope is {"message"}, {"detail"} or {"error"}; error may be a string or an object.
type errorEnvelope struct {
	Message string
}

func (audioBody) variant() string       { return "audio" }
func (minimaxEnvelope) variant() string { return "minimax" }
func (base64Envelope) variant() string  { return "base64" }
func (errorEnvelope) variant() string   { return "error" }

func (e minimaxEnvelope) audio() string {
	if e.Data == nil {
		return ""
	}
	return e.Data.Audio
}

func (e minimaxEnvelope) failed() bool {
	return e.BaseResp != nil && e.BaseResp.StatusCode != 0
}

func (e base64Envelope) payload() string {
	if e.AudioContent != "" {
		return e.AudioContent
	}
	return e.AudioBase64
}

// classify matches a JSON body against the known envelopes in priority order.
func classify(body []byte) (response, error) {
	var mm minimaxEnvelope
	if err := json.Unmarshal(body, &mm); err == nil && (mm.audio() != "" || mm.failed()) {
		return mm, nil
	}
	var b64 base64Envelope
	if err := json.Unmarshal(body, &b64); err == nil && b64.payload() != "" {
		return b64, nil
	}
	if msg := envelopeMessage(body); msg != "" {
		return errorEnvelope{Message: msg}, nil
	}
	return nil, fmt.Errorf("body %q: %w", snippet(body), apierr.ErrUnrecognizedResponse)
}

func envelopeMessage(body []byte) string {
	var raw struct {
		Message string          `json:"message"`
		Detail  json.RawMessage `json:"detail"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return ""
	}
	if strings.TrimSpace(raw.Message) != "" {
		return strings.TrimSpace(raw.Message)
	}
	if msg := looseMessage(raw.Detail); msg != "" {
		return msg
	}
	return looseMessage(raw.Error)
}

// looseMessage reads a string, an object with message/msg, or falls back to the compact JSON.
func looseMessage(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var obj struct {
		Message string `json:"message"`
		Msg     string `json:"msg"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.Message != "" {
			return obj.Message
		}
		if obj.Msg != "" {
			return obj.Msg
		}
	}
	return snippet(raw)
}

// decode turns a vendor response into audio bytes on w, or a classified error.
func decode(provider string, resp *http.Response, w io.Writer) error {
	br := bufio.NewReader(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(br, maxErrorBody))
		return &apierr.StatusError{Provider: provider, StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}

	if isAudio(resp.Header.Get("Content-Type"), br) {
		return writeAudio(provider, audioBody{r: br}, w)
	}

	body, err := io.ReadAll(io.LimitReader(br, maxJSONBody))
	if err != nil {
		return fmt.Errorf("%s read body: %w", provider, errors.Join(err, apierr.ErrTransport))
	}
	v, err := classify(body)
	if err != nil {
		return fmt.Errorf("%s: %w", provider, err)
	}
	switch v := v.(type) {
	case minimaxEnvelope:
		if v.failed() {
			return minimaxStatusError(provider, v.BaseResp.StatusCode, v.BaseResp.StatusMsg)
		}
		audio, err := hex.DecodeString(v.audio())
		if err != nil {
			return fmt.Errorf("%s hex audio: %w", provider, errors.Join(err, apierr.ErrUnrecognizedResponse))
		}
		return writeBytes(provider, audio, w)
	case base64Envelope:
		audio, err := base64.StdEncoding.DecodeString(v.payload())
		if err != nil {
			return fmt.Errorf("%s base64 audio: %w", provider, errors.Join(err, apierr.ErrUnrecognizedResponse))
		}
		return writeBytes(provider, audio, w)
	case errorEnvelope:
		return &apierr.StatusError{Provider: provider, StatusCode: resp.StatusCode, Message: v.Message}
	}
	return fmt.Errorf("%s: %w", provider, apierr.ErrUnrecognizedResponse)
}

// minimaxStatusError maps base_resp codes onto HTTP-equivalent statuses: 1004 is a bad key,
// 1002/1039 are rate limits.
func minimaxStatusError(provider string, code int, msg string) error {
	status := http.StatusBadGateway
	switch code {
	case 1004:
		status = http.StatusUnauthorized
	case 1002, 1039:
		status = http.StatusTooManyRequests
	}
	return &apierr.StatusError{Provider: provider, StatusCode: status, Message: fmt.Sprintf("%s (code %d)", msg, code)}
}

func isAudio(contentType string, br *bufio.Reader) bool {
	if contentType != "" {
		mediaType, _, err := mime.ParseMediaType(contentType)
		if err == nil {
			switch {
			case strings.HasPrefix(mediaType, "audio/"), mediaType == "application/octet-stream":
				return true
			case strings.Contains(mediaType, "json"), strings.HasPrefix(mediaType, "text/"):
				return false
			}
		}
	}
	peek, _ := br.Peek(1)
	return len(peek) == 1 && peek[0] != '{'
}

type readError struct{ err error }

func (e readError) Error() string { return e.err.Error() }

type trackingReader struct{ r io.Reader }

func (t trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF {
		return n, readError{err}
	}
	return n, err
}

func writeAudio(provider string, body audioBody, w io.Writer) error {
	n, err := io.Copy(w, trackingReader{r: body.r})
	if err != nil {
		var re readError
		if errors.As(err, &re) {
			return fmt.Errorf("%s stream: %w", provider, errors.Join(re.err, apierr.ErrTransport))
		}
		return fmt.Errorf("%s write audio: %w", provider, err)
	}
	if n == 0 {
		return fmt.Errorf("%s returned an empty audio stream: %w", provider, apierr.ErrUpstream)
	}
	return nil
}

func writeBytes(provider string, audio []byte, w io.Writer) error {
	if len(audio) == 0 {
		return fmt.Errorf("%s returned empty audio: %w", provider, apierr.ErrUpstream)
	}
	if _, err := w.Write(audio); err != nil {
		return fmt.Errorf("%s write audio: %w", provider, err)
	}
	return nil
}

func errorMessage(body []byte) string {
	if msg := envelopeMessage(body); msg != "" {
		return msg
	}
	var mm minimaxEnvelope
	if err := json.Unmarshal(body, &mm); err == nil && mm.BaseResp != nil && mm.BaseResp.StatusMsg != "" {
		return mm.BaseResp.StatusMsg
	}
	return snippet(body)
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
