// Package extract reads measurement records out of a health export.
package extract

import (
	"context"
	"encoding/xml"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/health-steps/internal/model"
)

// DefaultMember is where the Apple Health app places the export document
// inside export.zip.
const DefaultMember = "apple_health_export/export.xml"

const recordElementName = "Record"

// Options configures an extraction.
type Options struct {
	// Type keeps only records whose type attribute matches. Empty keeps all.
	Type string
	// Member is the archive path of the XML document. Defaults to DefaultMember.
	Member string
}

// Error reports that the source could not be read or parsed.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	return "extract " + e.Path + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Extract parses the export at path (raw XML or a zip archive holding the
// document at opts.Member) and returns its records in document order.
// An empty result is not an error.
func Extract(ctx context.Context, path string, opts Options) ([]model.MeasurementRecord, error) {
	log := zap.L().With(zap.String("component", "extract"), zap.String("path", path))

	member := opts.Member
	if member == "" {
		member = DefaultMember
	}

	rc, err := openSource(path, member)
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}
	defer rc.Close() //nolint:errcheck

	var (
		records []model.MeasurementRecord
		skipped int
	)
	err = decodeElements(ctx, rc, recordElementName, func(d *xml.Decoder, se *xml.StartElement) error {
		if opts.Type != "" && attrValue(se, "type") != opts.Type {
			skipped++
			return eris.Wrap(d.Skip(), "xml: skip element")
		}

		var el recordElement
		if err := d.DecodeElement(&el, se); err != nil {
			return eris.Wrap(err, "xml: decode record")
		}
		records = append(records, el.toRecord())
		return nil
	})
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}

	log.Debug("records extracted",
		zap.String("type", opts.Type),
		zap.Int("kept", len(records)),
		zap.Int("skipped", skipped),
	)
	return records, nil
}

func attrValue(se *xml.StartElement, name string) string {
	for _, a := range se.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}
