package render

import (
	"bytes"
	"fmt"
	"image"
	_ "image/png"

	"github.com/go-pdf/fpdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Browser screenshots come out at CSS pixel density
const screenshotDPI = 96.0

// screenshotToPDF wraps a full-page PNG screenshot in a single-page PDF
// sized to the image, so nothing is cropped or rescaled.
func screenshotToPDF(png []byte) ([]byte, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(png))
	if err != nil {
		return nil, fmt.Errorf("failed to decode screenshot: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("screenshot has invalid dimensions %dx%d", cfg.Width, cfg.Height)
	}

	widthMM := float64(cfg.Width) * 25.4 / screenshotDPI
	heightMM := float64(cfg.Height) * 25.4 / screenshotDPI

	pdf := fpdf.NewCustom(&fpdf.InitType{
		UnitStr: "mm",
		Size:    fpdf.SizeType{Wd: widthMM, Ht: heightMM},
	})
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	opts := fpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("screenshot", opts, bytes.NewReader(png))
	pdf.ImageOptions("screenshot", 0, 0, widthMM, heightMM, false, opts, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to generate PDF output: %w", err)
	}
	return buf.Bytes(), nil
}

// validatePDF checks the rendered bytes parse as a well-formed PDF before
// they are persisted as an artifact.
func validatePDF(data []byte) error {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return api.Validate(bytes.NewReader(data), conf)
}
