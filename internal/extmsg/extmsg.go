// Package extmsg decodes "extended" chat messages: server text that, instead
// of prose, carries references into the game's message catalog plus the
// arguments to fill in.
//
// An extended message is one or more sub-messages, each starting with
// Marker, followed by the base85 category and instance of its template and
// a tagged parameter stream that ends with TagEnd.
package extmsg

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/phuslu/log"
)

const Marker = "~&"

// NoticeCategory holds the templates of chat notices and of TagNotice
// parameters.
const NoticeCategory uint32 = 20000

var ErrNoTemplate = errors.New("no template in catalog")

// Catalog maps (category, instance) to a template.
type Catalog interface {
	MessageString(category, instance uint32) (string, bool)
}

// Message is one decoded sub-message. Category and Instance are kept as
// read; five base85 digits can exceed 32 bits, and such a message has no
// template.
type Message struct {
	Category int64
	Instance int64
	Params   []Param
	Text     string
}

type Decoder struct {
	catalog Catalog
	logger  *log.Logger
}

// NewDecoder returns a decoder resolving templates through catalog, which
// may be nil (every lookup then misses).
func NewDecoder(catalog Catalog, logger *log.Logger) *Decoder {
	// if logger is nil (which might be true in tests) => use default, but
	// silenced logger
	if logger == nil {
		tmp := log.DefaultLogger
		logger = &tmp
		logger.Writer = &log.IOWriter{Writer: io.Discard}
	}

	return &Decoder{
		catalog: catalog,
		logger:  logger,
	}
}

// IsExtended reports whether text is an extended message.
func IsExtended(text string) bool {
	return strings.HasPrefix(text, Marker)
}

// DecodeMessages decodes every sub-message of msg. A sub-message whose
// template is missing or does not render is returned with empty Text.
// A malformed parameter stream ends decoding after its sub-message, which
// is returned with empty Text along with everything before it. All
// failures are collected in the error.
func (d *Decoder) DecodeMessages(msg string) ([]Message, error) {
	var (
		msgs   []Message
		result *multierror.Error
	)

	r := NewReader([]byte(msg))
	for r.HasPrefix(Marker) {
		_, _ = r.take(len(Marker))

		m, err := d.decodeOne(r)
		if err != nil {
			d.logger.Warn().
				Int64("category", m.Category).
				Int64("instance", m.Instance).
				Int("offset", r.Offset()).
				Msgf("could not decode extended message: %v", err)
			result = multierror.Append(result, err)
			if errors.Is(err, ErrShortBuffer) || errors.Is(err, ErrUnknownTag) {
				msgs = append(msgs, m)
				break
			}
		}
		msgs = append(msgs, m)
	}

	return msgs, result.ErrorOrNil()
}

func (d *Decoder) decodeOne(r *Reader) (Message, error) {
	m := Message{}

	cat, err := r.Base85()
	if err != nil {
		return m, fmt.Errorf("could not read category: %w", err)
	}
	m.Category = cat

	ins, err := r.Base85()
	if err != nil {
		return m, fmt.Errorf("could not read instance: %w", err)
	}
	m.Instance = ins

	m.Params, err = ParseParams(r, d.catalog)
	if err != nil {
		return m, fmt.Errorf("could not parse params of %d/%d: %w", m.Category, m.Instance, err)
	}

	m.Text, err = d.render(m.Category, m.Instance, m.Params)
	return m, err
}

func (d *Decoder) render(category, instance int64, params []Param) (string, error) {
	tmpl, ok := lookupTemplate(d.catalog, category, instance)
	if !ok {
		return "", fmt.Errorf("%w: %d/%d", ErrNoTemplate, category, instance)
	}
	text, err := Render(tmpl, params)
	if err != nil {
		return "", fmt.Errorf("could not render %d/%d: %w", category, instance, err)
	}
	return text, nil
}

// Decode returns the concatenated, trimmed text of all sub-messages of
// msg. The text is usable even when err is non-nil.
func (d *Decoder) Decode(msg string) (string, error) {
	msgs, err := d.DecodeMessages(msg)

	var sb strings.Builder
	for _, m := range msgs {
		sb.WriteString(strings.TrimSpace(m.Text))
	}

	return sb.String(), err
}

// Notice renders a chat notice: the template is instance in
// NoticeCategory and the parameters are a bare tagged stream without
// marker or header.
func (d *Decoder) Notice(instance uint32, params string) (Message, error) {
	m := Message{Category: int64(NoticeCategory), Instance: int64(instance)}

	// without a template there is nothing to render the params into
	tmpl, ok := lookupTemplate(d.catalog, m.Category, m.Instance)
	if !ok {
		return m, fmt.Errorf("%w: %d/%d", ErrNoTemplate, m.Category, m.Instance)
	}

	var err error
	m.Params, err = ParseParams(NewReader([]byte(params)), d.catalog)
	if err != nil {
		d.logger.Error().
			Uint32("instance", instance).
			Msgf("could not parse chat notice: %v", err)
		return m, fmt.Errorf("could not parse chat notice params: %w", err)
	}

	m.Text, err = Render(tmpl, m.Params)
	if err != nil {
		return m, fmt.Errorf("could not render chat notice %d: %w", instance, err)
	}
	return m, nil
}
