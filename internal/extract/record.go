package extract

import (
	"encoding/xml"

	"github.com/sells-group/health-steps/internal/model"
)

// optAttr records whether an attribute was present at all.
type optAttr struct {
	value string
	set   bool
}

func (a *optAttr) UnmarshalXMLAttr(attr xml.Attr) error {
	a.value = attr.Value
	a.set = true
	return nil
}

func (a optAttr) ptr() *string {
	if !a.set {
		return nil
	}
	v := a.value
	return &v
}

// recordElement mirrors the attributes of a <Record> element.
type recordElement struct {
	Type          string  `xml:"type,attr"`
	SourceName    optAttr `xml:"sourceName,attr"`
	SourceVersion optAttr `xml:"sourceVersion,attr"`
	Unit          optAttr `xml:"unit,attr"`
	Value         string  `xml:"value,attr"`
	CreationDate  string  `xml:"creationDate,attr"`
	StartDate     string  `xml:"startDate,attr"`
	EndDate       string  `xml:"endDate,attr"`
}

func (el recordElement) toRecord() model.MeasurementRecord {
	return model.MeasurementRecord{
		Type:          el.Type,
		SourceName:    el.SourceName.ptr(),
		SourceVersion: el.SourceVersion.ptr(),
		Unit:          el.Unit.ptr(),
		Value:         el.Value,
		CreationDate:  el.CreationDate,
		StartDate:     el.StartDate,
		EndDate:       el.EndDate,
	}
}
