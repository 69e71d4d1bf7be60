package render

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/srwiley/oksvg"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"
	_ "golang.org/x/image/webp"
)

// affine is an SVG transform matrix [a c e; b d f].
type affine struct{ a, b, c, d, e, f float64 }

var identity = affine{a: 1, d: 1}

// then returns the transform applying n first and m second.
func (m affine) then(n affine) affine {
	return affine{
		a: m.a*n.a + m.c*n.b,
		b: m.b*n.a + m.d*n.b,
		c: m.a*n.c + m.c*n.d,
		d: m.b*n.c + m.d*n.d,
		e: m.a*n.e + m.c*n.f + m.e,
		f: m.b*n.e + m.d*n.f + m.f,
	}
}

func (m affine) apply(x, y float64) (float64, float64) {
	return m.a*x + m.c*y + m.e, m.b*x + m.d*y + m.f
}

func (m affine) axisAligned() bool {
	return m.b == 0 && m.c == 0
}

var transformRe = regexp.MustCompile(`([a-zA-Z]+)\s*\(([^)]*)\)`)

// parseTransform understands matrix, translate, scale, rotate, skewX and
// skewY. Malformed entries are skipped.
func parseTransform(s string) affine {
	m := identity
	for _, match := range transformRe.FindAllStringSubmatch(s, -1) {
		args := parseNumbers(match[2])
		var t affine
		switch {
		case match[1] == "matrix" && len(args) == 6:
			t = affine{args[0], args[1], args[2], args[3], args[4], args[5]}
		case match[1] == "translate" && len(args) == 1:
			t = affine{a: 1, d: 1, e: args[0]}
		case match[1] == "translate" && len(args) == 2:
			t = affine{a: 1, d: 1, e: args[0], f: args[1]}
		case match[1] == "scale" && len(args) == 1:
			t = affine{a: args[0], d: args[0]}
		case match[1] == "scale" && len(args) == 2:
			t = affine{a: args[0], d: args[1]}
		case match[1] == "rotate" && (len(args) == 1 || len(args) == 3):
			rad := args[0] * math.Pi / 180
			sin, cos := math.Sincos(rad)
			t = affine{a: cos, b: sin, c: -sin, d: cos}
			if len(args) == 3 {
				t = affine{a: 1, d: 1, e: args[1], f: args[2]}.then(t).then(affine{a: 1, d: 1, e: -args[1], f: -args[2]})
			}
		case match[1] == "skewX" && len(args) == 1:
			t = affine{a: 1, d: 1, c: math.Tan(args[0] * math.Pi / 180)}
		case match[1] == "skewY" && len(args) == 1:
			t = affine{a: 1, d: 1, b: math.Tan(args[0] * math.Pi / 180)}
		default:
			continue
		}
		m = m.then(t)
	}
	return m
}

func parseNumbers(s string) []float64 {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r' })
	out := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil
		}
		out = append(out, v)
	}
	return out
}

// firstNumber reads the first entry of a coordinate list such as the x
// attribute of <text>.
func firstNumber(s string) float64 {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || unicode.IsSpace(r) })
	if len(fields) == 0 {
		return 0
	}
	v, _ := parseLength(fields[0])
	return v
}

// paintState is the inherited presentation state at an element.
type paintState struct {
	ctm        affine
	fill       color.Color
	fontFamily string
	fontSize   float64
	anchor     string
}

func (p paintState) with(attrs []xml.Attr) paintState {
	props := map[string]string{}
	for _, attr := range attrs {
		props[attr.Name.Local] = attr.Value
	}
	if style, ok := props["style"]; ok {
		for _, decl := range strings.Split(style, ";") {
			k, v, ok := strings.Cut(decl, ":")
			if ok {
				props[strings.TrimSpace(k)] = strings.TrimSpace(v)
			}
		}
	}

	if v, ok := props["transform"]; ok {
		p.ctm = p.ctm.then(parseTransform(v))
	}
	if v, ok := props["fill"]; ok {
		if c, err := oksvg.ParseSVGColor(v); err == nil {
			p.fill = c
		}
	}
	if v, ok := props["font-family"]; ok {
		p.fontFamily = v
	}
	if v, ok := props["font-size"]; ok {
		if size, ok := parseLength(v); ok {
			p.fontSize = size
		}
	}
	if v, ok := props["text-anchor"]; ok {
		p.anchor = v
	}
	return p
}

// Elements whose children are never painted directly.
var nonRendering = map[string]bool{
	"defs":     true,
	"clipPath": true,
	"mask":     true,
	"pattern":  true,
	"symbol":   true,
	"marker":   true,
	"title":    true,
	"desc":     true,
	"metadata": true,
}

// resourcePainter draws the parts of a document that reference attached
// resources: <image> elements and <text> set in an attached font. oksvg
// paints every shape first, so these are composited on top of it.
type resourcePainter struct {
	dst   *image.RGBA
	dir   string
	fonts *fontSet
}

func paintResources(dst *image.RGBA, svg []byte, resourceDir string, viewport affine) {
	p := &resourcePainter{dst: dst, dir: resourceDir}

	dec := xml.NewDecoder(bytes.NewReader(svg))
	dec.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) {
		return input, nil
	}

	stack := []paintState{{ctm: viewport, fill: color.Black, fontSize: 16}}
	hidden := 0

	var text *textRun
	for {
		tok, err := dec.Token()
		if err != nil {
			return
		}

		switch t := tok.(type) {
		case xml.StartElement:
			state := stack[len(stack)-1].with(t.Attr)
			stack = append(stack, state)
			if hidden > 0 || nonRendering[t.Name.Local] {
				hidden++
				continue
			}
			switch {
			case text != nil:
				text.depth++
			case t.Name.Local == "image":
				p.drawImage(state, t.Attr)
			case t.Name.Local == "text":
				text = &textRun{state: state, x: attrValue(t.Attr, "x"), y: attrValue(t.Attr, "y")}
			}
		case xml.CharData:
			if text != nil && hidden == 0 {
				text.buf.Write(t)
			}
		case xml.EndElement:
			stack = stack[:len(stack)-1]
			if hidden > 0 {
				hidden--
				continue
			}
			if text == nil {
				continue
			}
			if text.depth > 0 {
				text.depth--
				continue
			}
			p.drawText(text)
			text = nil
		}
	}
}

func attrValue(attrs []xml.Attr, name string) string {
	for _, attr := range attrs {
		if attr.Name.Local == name {
			return attr.Value
		}
	}
	return ""
}

func (p *resourcePainter) drawImage(state paintState, attrs []xml.Attr) {
	if !state.ctm.axisAligned() {
		return
	}

	src := loadBitmap(p.dir, attrValue(attrs, "href"))
	if src == nil {
		return
	}

	x, _ := parseLength(attrValue(attrs, "x"))
	y, _ := parseLength(attrValue(attrs, "y"))
	w, hasW := parseLength(attrValue(attrs, "width"))
	h, hasH := parseLength(attrValue(attrs, "height"))
	sb := src.Bounds()
	if !hasW {
		w = float64(sb.Dx())
	}
	if !hasH {
		h = float64(sb.Dy())
	}
	if w <= 0 || h <= 0 {
		return
	}

	// default preserveAspectRatio is "xMidYMid meet"
	if !strings.HasPrefix(strings.TrimSpace(attrValue(attrs, "preserveAspectRatio")), "none") {
		scale := math.Min(w/float64(sb.Dx()), h/float64(sb.Dy()))
		fw, fh := float64(sb.Dx())*scale, float64(sb.Dy())*scale
		x, y = x+(w-fw)/2, y+(h-fh)/2
		w, h = fw, fh
	}

	x0, y0 := state.ctm.apply(x, y)
	x1, y1 := state.ctm.apply(x+w, y+h)
	rect := image.Rect(int(math.Round(x0)), int(math.Round(y0)), int(math.Round(x1)), int(math.Round(y1))).Canon()
	if rect.Empty() || !rect.Overlaps(p.dst.Bounds()) {
		return
	}
	draw.CatmullRom.Scale(p.dst, rect, src, sb, draw.Over, nil)
}

// loadBitmap resolves href to a decoded raster. Local references must name a
// file directly inside dir; data URIs are decoded inline. Anything else,
// including unreadable or undecodable files, yields nil.
func loadBitmap(dir, href string) image.Image {
	href = strings.TrimSpace(href)

	var data []byte
	switch {
	case href == "":
		return nil
	case strings.HasPrefix(href, "data:"):
		meta, payload, ok := strings.Cut(href[len("data:"):], ",")
		if !ok || !strings.HasSuffix(meta, ";base64") {
			return nil
		}
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil
		}
		data = decoded
	default:
		name, ok := localResource(href)
		if !ok || dir == "" {
			return nil
		}
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil
		}
		data = raw
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil
	}
	return img
}

// localResource maps an href to a file name inside the resource directory.
func localResource(href string) (string, bool) {
	u, err := url.Parse(href)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "", false
	}
	name := strings.TrimPrefix(u.Path, "./")
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", false
	}
	return name, true
}

type textRun struct {
	state paintState
	x, y  string
	buf   bytes.Buffer
	depth int
}

func (p *resourcePainter) drawText(run *textRun) {
	content := strings.Join(strings.Fields(run.buf.String()), " ")
	state := run.state
	if content == "" || state.fill == nil || state.fontSize <= 0 || !state.ctm.axisAligned() {
		return
	}

	if p.fonts == nil {
		p.fonts = loadFonts(p.dir)
	}
	f := p.fonts.match(state.fontFamily)
	if f == nil {
		return
	}

	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    state.fontSize * math.Abs(state.ctm.d),
		DPI:     72,
		Hinting: font.HintingNone,
	})
	if err != nil {
		return
	}
	defer face.Close()

	d := &font.Drawer{Dst: p.dst, Src: image.NewUniform(state.fill), Face: face}
	x, y := state.ctm.apply(firstNumber(run.x), firstNumber(run.y))
	advance := float64(d.MeasureString(content)) / 64
	switch state.anchor {
	case "middle":
		x -= advance / 2
	case "end":
		x -= advance
	}
	d.Dot = fixed.Point26_6{X: fixed.Int26_6(math.Round(x * 64)), Y: fixed.Int26_6(math.Round(y * 64))}
	d.DrawString(content)
}

// fontSet holds the fonts attached to a render, keyed by lower-cased family
// name and by file name without extension.
type fontSet struct {
	byName   map[string]*opentype.Font
	fallback *opentype.Font
}

func loadFonts(dir string) *fontSet {
	set := &fontSet{byName: map[string]*opentype.Font{}}
	if dir == "" {
		return set
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return set
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".ttf", ".otf":
			if e.Type().IsRegular() {
				names = append(names, e.Name())
			}
		}
	}
	sort.Strings(names)

	var buf sfnt.Buffer
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		f, err := opentype.Parse(data)
		if err != nil {
			continue
		}
		if set.fallback == nil {
			set.fallback = f
		}
		set.byName[strings.ToLower(strings.TrimSuffix(name, filepath.Ext(name)))] = f
		if family, err := f.Name(&buf, sfnt.NameIDFamily); err == nil {
			key := strings.ToLower(family)
			if _, taken := set.byName[key]; !taken {
				set.byName[key] = f
			}
		}
	}
	return set
}

// match picks the first family in a CSS font-family list that is attached,
// falling back to any attached font.
func (s *fontSet) match(families string) *opentype.Font {
	for _, family := range strings.Split(families, ",") {
		key := strings.ToLower(strings.Trim(strings.TrimSpace(family), `"'`))
		if f, ok := s.byName[key]; ok {
			return f
		}
	}
	return s.fallback
}
