// Package report renders a single scan record and its image into a
// self-contained PDF. Reports are derived on demand and never stored.
package report

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/go-pdf/fpdf"

	"github.com/dharsanguruparan/ScanVault/internal/blob"
	"github.com/dharsanguruparan/ScanVault/internal/metrics"
	"github.com/dharsanguruparan/ScanVault/internal/model"
)

const (
	Title        = "ScanVault Healthcare - Scan Report"
	Subtitle     = "Dental Scan Report"
	Placeholder  = "Image unavailable"
	DateLayout   = "January 2, 2006 15:04 MST"
	jpegQuality  = 80
	imageName    = "scan"
	fieldsStartY = 45.0
	fontFamily   = "DejaVu"

	// reportMaxPixels caps the decoded raster. Larger images are drawn as
	// the placeholder.
	reportMaxPixels = 40_000_000
)

var (
	//go:embed fonts/DejaVuSansCondensed.ttf
	fontRegular []byte
	//go:embed fonts/DejaVuSansCondensed-Bold.ttf
	fontBold []byte
)

var errImageTooLarge = errors.New("image exceeds pixel limit")

// Field is one labelled metadata line.
type Field struct {
	Label string
	Value string
}

// Document is a rendered report.
type Document struct {
	Title    string
	Fields   []Field
	FileName string

	// ImageEmbedded is false when the placeholder was drawn instead.
	ImageEmbedded bool
	Placeholder   string
	ImageWidthPx  int
	ImageHeightPx int
	ImageBox      Box

	PDF []byte
}

// Generator builds reports, fetching images through a blob.Getter.
type Generator struct {
	blobs  blob.Getter
	logger *slog.Logger
}

// NewGenerator constructs a Generator.
func NewGenerator(blobs blob.Getter, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{blobs: blobs, logger: logger.With("component", "report")}
}

// Generate renders rec. A missing or undecodable image yields a report with
// the placeholder; only a rendering fault is an error.
func (g *Generator) Generate(ctx context.Context, rec *model.ScanRecord) (*Document, error) {
	doc := &Document{
		Title:    Title,
		Fields:   Fields(rec),
		FileName: FileName(rec),
	}

	img, err := g.loadImage(ctx, rec.ImageAddress)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("report for scan %s: %w", rec.ID, err)
		}
		g.logger.Warn("scan image unavailable, using placeholder",
			slog.String("scan_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(Title, true)
	pdf.SetCreator("ScanVault", true)
	pdf.SetCreationDate(rec.UploadedAt)
	pdf.AddUTF8FontFromBytes(fontFamily, "", fontRegular)
	pdf.AddUTF8FontFromBytes(fontFamily, "B", fontBold)
	pdf.AddPage()

	pdf.SetFont(fontFamily, "B", 18)
	pdf.CellFormat(0, 12, Title, "", 1, "C", false, 0, "")
	pdf.SetFont(fontFamily, "", 13)
	pdf.CellFormat(0, 8, Subtitle, "", 1, "C", false, 0, "")

	pdf.SetY(fieldsStartY)
	for _, f := range doc.Fields {
		pdf.SetFont(fontFamily, "B", 12)
		pdf.CellFormat(40, 9, f.Label+":", "", 0, "L", false, 0, "")
		pdf.SetFont(fontFamily, "", 12)
		pdf.CellFormat(0, 9, pdfText(f.Value), "", 1, "L", false, 0, "")
	}

	if img != nil {
		doc.ImageEmbedded = true
		doc.ImageWidthPx, doc.ImageHeightPx = img.width, img.height
		w, h := FitWithin(float64(img.width), float64(img.height), ImageMaxW, ImageMaxH)
		doc.ImageBox = Box{X: ImageX, Y: ImageY, W: w, H: h}
		opts := fpdf.ImageOptions{ImageType: "JPG"}
		pdf.RegisterImageOptionsReader(imageName, opts, bytes.NewReader(img.jpeg))
		pdf.ImageOptions(imageName, ImageX, ImageY, w, h, false, opts, 0, "")
	} else {
		doc.Placeholder = Placeholder
		doc.ImageBox = Box{X: ImageX, Y: ImageY, W: ImageMaxW, H: ImageMaxH}
		pdf.SetDrawColor(160, 160, 160)
		pdf.Rect(ImageX, ImageY, ImageMaxW, ImageMaxH, "D")
		pdf.SetXY(ImageX, ImageY+ImageMaxH/2-5)
		pdf.SetFont(fontFamily, "", 14)
		pdf.CellFormat(ImageMaxW, 10, Placeholder, "", 0, "C", false, 0, "")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render report for scan %s: %w: %w", rec.ID, model.ErrReportGenerationFailed, err)
	}
	doc.PDF = buf.Bytes()

	outcome := "embedded"
	if !doc.ImageEmbedded {
		outcome = "unavailable"
	}
	metrics.ReportsGenerated.WithLabelValues(outcome).Inc()
	return doc, nil
}

type preparedImage struct {
	jpeg          []byte
	width, height int
}

// loadImage fetches and decodes the scan image and re-encodes it as JPEG so
// the PDF only ever embeds one image format.
func (g *Generator) loadImage(ctx context.Context, address string) (*preparedImage, error) {
	if address == "" {
		return nil, fmt.Errorf("scan has no image address")
	}
	data, err := g.blobs.Get(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image header: %w", err)
	}
	if int64(cfg.Width)*int64(cfg.Height) > reportMaxPixels {
		return nil, fmt.Errorf("%dx%d: %w", cfg.Width, cfg.Height, errImageTooLarge)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	b := img.Bounds()
	return &preparedImage{jpeg: buf.Bytes(), width: b.Dx(), height: b.Dy()}, nil
}

// pdfText replaces runes outside the Basic Multilingual Plane, which the
// embedded font tables cannot address.
func pdfText(s string) string {
	return strings.Map(func(r rune) rune {
		if r > 0xFFFF {
			return '?'
		}
		return r
	}, s)
}

// Fields lists the metadata lines in display order.
func Fields(rec *model.ScanRecord) []Field {
	return []Field{
		{Label: "Patient Name", Value: rec.PatientName},
		{Label: "Patient ID", Value: rec.PatientID},
		{Label: "Scan Type", Value: string(rec.ScanType)},
		{Label: "Region", Value: string(rec.Region)},
		{Label: "Upload Date", Value: FormatDate(rec.UploadedAt)},
	}
}

// FormatDate renders an upload time for humans, always in UTC.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// FileName suggests <patient name>_<patient id>_scan_report.pdf with anything
// outside letters, digits, '-' and '.' replaced by '_'.
func FileName(rec *model.ScanRecord) string {
	return sanitize(rec.PatientName) + "_" + sanitize(rec.PatientID) + "_scan_report.pdf"
}

func sanitize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '.') {
			return r
		}
		return '_'
	}, s)
}
