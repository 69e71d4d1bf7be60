package render

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/ruteri/social-image/interfaces"
)

// DocumentSize is the size information declared on the root <svg> element.
type DocumentSize struct {
	Width     float64
	Height    float64
	HasWidth  bool
	HasHeight bool
	ViewBox   struct{ X, Y, W, H float64 }
}

// ParseDocumentSize reads the root element of svg. It fails with
// interfaces.ErrInvalidSVG when the document is not well-formed up to the root
// element or the root is not <svg>.
func ParseDocumentSize(svg []byte) (DocumentSize, error) {
	var size DocumentSize

	dec := xml.NewDecoder(bytes.NewReader(svg))
	// Only root attributes are inspected; they are ASCII in any encoding the
	// rasterizer accepts.
	dec.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) {
		return input, nil
	}

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return size, fmt.Errorf("%w: no root element", interfaces.ErrInvalidSVG)
		}
		if err != nil {
			return size, fmt.Errorf("%w: %v", interfaces.ErrInvalidSVG, err)
		}

		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if se.Name.Local != "svg" {
			return size, fmt.Errorf("%w: root element is <%s>", interfaces.ErrInvalidSVG, se.Name.Local)
		}

		for _, attr := range se.Attr {
			switch attr.Name.Local {
			case "width":
				size.Width, size.HasWidth = parseLength(attr.Value)
			case "height":
				size.Height, size.HasHeight = parseLength(attr.Value)
			case "viewBox":
				fields := strings.FieldsFunc(attr.Value, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r' })
				if len(fields) != 4 {
					return size, fmt.Errorf("%w: malformed viewBox %q", interfaces.ErrInvalidSVG, attr.Value)
				}
				var vb [4]float64
				for i, f := range fields {
					v, err := strconv.ParseFloat(f, 64)
					if err != nil {
						return size, fmt.Errorf("%w: malformed viewBox %q", interfaces.ErrInvalidSVG, attr.Value)
					}
					vb[i] = v
				}
				size.ViewBox.X, size.ViewBox.Y, size.ViewBox.W, size.ViewBox.H = vb[0], vb[1], vb[2], vb[3]
			}
		}
		return size, nil
	}
}

// ValidateDocument checks that svg has a well-formed <svg> root without
// rendering it.
func ValidateDocument(svg []byte) error {
	_, err := ParseDocumentSize(svg)
	return err
}

// Resolve returns the pixel size to render at. Declared width and height win;
// a single declared side is completed from the viewBox aspect ratio; a viewBox
// alone gives its own size; anything still missing comes from def. A side
// declared as zero stays zero.
func (d DocumentSize) Resolve(def interfaces.CanvasSize) (int, int) {
	w, h := d.Width, d.Height
	hasViewBox := d.ViewBox.W > 0 && d.ViewBox.H > 0

	switch {
	case d.HasWidth && d.HasHeight:
	case d.HasWidth && hasViewBox:
		h = w * d.ViewBox.H / d.ViewBox.W
	case d.HasHeight && hasViewBox:
		w = h * d.ViewBox.W / d.ViewBox.H
	case !d.HasWidth && !d.HasHeight && hasViewBox:
		w, h = d.ViewBox.W, d.ViewBox.H
	}

	if w == 0 && !d.HasWidth {
		w = float64(def.Width)
	}
	if h == 0 && !d.HasHeight {
		h = float64(def.Height)
	}
	return int(math.Ceil(w)), int(math.Ceil(h))
}

var unitScale = map[string]float64{
	"":   1,
	"px": 1,
	"pt": 96.0 / 72.0,
	"pc": 16,
	"in": 96,
	"cm": 96 / 2.54,
	"mm": 96 / 25.4,
}

// parseLength converts an SVG length to pixels. Percentages, unknown units and
// unparsable values count as undeclared.
func parseLength(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	i := len(s)
	for i > 0 && (s[i-1] >= 'a' && s[i-1] <= 'z' || s[i-1] == '%') {
		i--
	}
	scale, ok := unitScale[s[i:]]
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s[:i]), 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v * scale, true
}
