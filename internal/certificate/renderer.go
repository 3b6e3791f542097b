package certificate

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/pathlight-learn/pathlight-lms/internal/storage"
)

// SVGRenderer is the default, offline renderer: it writes a simple SVG
// into the blob store and returns its asset URL. Deployments with a real
// image service swap in their own Renderer.
type SVGRenderer struct {
	blobs storage.BlobStore
}

func NewSVGRenderer(blobs storage.BlobStore) *SVGRenderer { return &SVGRenderer{blobs: blobs} }

func (r *SVGRenderer) Render(ctx context.Context, data RenderData) (string, error) {
	heading := "Certificate of Completion"
	if data.Kind == KindCompliance {
		heading = "Compliance Certificate"
	}
	svg := fmt.Sprintf(svgTemplate,
		html.EscapeString(heading),
		html.EscapeString(data.LearnerName),
		html.EscapeString(data.CourseTitle),
		data.Score,
		data.CompletedAt.Format("2 January 2006"),
		html.EscapeString(data.Number),
		html.EscapeString(data.VerificationCode),
	)
	key := fmt.Sprintf("certificates/%s.svg", data.Number)
	if _, err := r.blobs.Put(key, strings.NewReader(svg)); err != nil {
		return "", err
	}
	return r.blobs.URL(key), nil
}

const svgTemplate = `<svg xmlns="http://www.w3.org/2000/svg" width="1000" height="700" viewBox="0 0 1000 700">
  <rect width="1000" height="700" fill="#fdfcf7" stroke="#1f3a5f" stroke-width="12"/>
  <text x="500" y="140" text-anchor="middle" font-size="44" font-family="Georgia, serif" fill="#1f3a5f">%s</text>
  <text x="500" y="260" text-anchor="middle" font-size="56" font-family="Georgia, serif" fill="#111">%s</text>
  <text x="500" y="340" text-anchor="middle" font-size="28" font-family="Georgia, serif" fill="#333">has completed the course</text>
  <text x="500" y="400" text-anchor="middle" font-size="36" font-family="Georgia, serif" fill="#1f3a5f">%s</text>
  <text x="500" y="470" text-anchor="middle" font-size="24" font-family="Georgia, serif" fill="#333">with a final score of %d%%</text>
  <text x="500" y="530" text-anchor="middle" font-size="22" font-family="Georgia, serif" fill="#333">%s</text>
  <text x="500" y="620" text-anchor="middle" font-size="16" font-family="monospace" fill="#666">No. %s · Verify: %s</text>
</svg>
`
