package paint

import (
	"fmt"

	pongo2 "github.com/flosch/pongo2/v5"
)

const previewSource = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="{{ view }}" width="{{ width }}" height="{{ height }}">
<title>{{ title }}</title>
<g transform="scale(1,-1)">
<rect x="{{ tray.x }}" y="{{ tray.y }}" width="{{ tray.w }}" height="{{ tray.h }}" fill="none" stroke="#888" stroke-width="{{ stroke }}"/>
{% for s in segments %}<line x1="{{ s.x1 }}" y1="{{ s.y1 }}" x2="{{ s.x2 }}" y2="{{ s.y2 }}" stroke="{% if s.spray %}#d33{% else %}#39f{% endif %}" stroke-width="{{ stroke }}"{% if not s.spray %} stroke-dasharray="{{ dash }}"{% endif %}/>
{% endfor %}<circle cx="{{ start.x }}" cy="{{ start.y }}" r="{{ marker }}" fill="#2a2"/>
</g>
</svg>
`

var previewTemplate = pongo2.Must(pongo2.FromString(previewSource))

func num(v float64) string {
	return fmt.Sprintf("%.3f", v)
}

// RenderSVG draws the path over its tray for operator review. Spray
// segments are solid red, positioning moves dashed blue.
func RenderSVG(p Path) (string, error) {
	lo, hi := p.Tray.Lo(), p.Tray.Hi()
	margin := 1.0
	w := hi.X - lo.X + 2*margin
	h := hi.Y - lo.Y + 2*margin

	segs := make([]pongo2.Context, 0, len(p.Segments))
	for _, s := range p.Segments {
		segs = append(segs, pongo2.Context{
			"x1":    num(s.From.X),
			"y1":    num(s.From.Y),
			"x2":    num(s.To.X),
			"y2":    num(s.To.Y),
			"spray": s.Spray,
		})
	}
	return previewTemplate.Execute(pongo2.Context{
		// y is flipped by the group transform, so the view box spans -hi.Y.
		"view":     fmt.Sprintf("%s %s %s %s", num(lo.X-margin), num(-hi.Y-margin), num(w), num(h)),
		"width":    num(w * 20),
		"height":   num(h * 20),
		"title":    fmt.Sprintf("%s side, %s pattern, %s layout", p.Name, p.Profile.Pattern, p.Layout),
		"tray":     pongo2.Context{"x": num(lo.X), "y": num(lo.Y), "w": num(hi.X - lo.X), "h": num(hi.Y - lo.Y)},
		"segments": segs,
		"start":    pongo2.Context{"x": num(p.Start.X), "y": num(p.Start.Y)},
		"stroke":   "0.08",
		"dash":     "0.3,0.2",
		"marker":   "0.25",
	})
}
