package extract

import (
	"context"
	"encoding/xml"
	"io"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
)

// decodeElements walks the XML document in r and calls fn for every start
// element named elementName. fn decides whether to decode or skip the element.
// It fails if the document has no root element.
func decodeElements(ctx context.Context, r io.Reader, elementName string, fn func(d *xml.Decoder, se *xml.StartElement) error) error {
	decoder := xml.NewDecoder(r)
	decoder.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		enc, err := htmlindex.Get(charset)
		if err != nil {
			return nil, eris.Wrapf(err, "xml: unsupported charset %q", charset)
		}
		return enc.NewDecoder().Reader(input), nil
	}

	sawRoot := false
	for {
		if ctx.Err() != nil {
			return eris.Wrap(ctx.Err(), "xml: context cancelled")
		}

		tok, err := decoder.Token()
		if err == io.EOF {
			if !sawRoot {
				return eris.New("xml: document has no root element")
			}
			return nil
		}
		if err != nil {
			return eris.Wrap(err, "xml: read token")
		}

		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		sawRoot = true

		if se.Name.Local != elementName {
			continue
		}

		if err := fn(decoder, &se); err != nil {
			return err
		}
	}
}
