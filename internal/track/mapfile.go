package track

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// KML colors are aabbggrr.
var kmlColors = map[string]string{
	"red":        "ff0000ff",
	"orange":     "ff00a5ff",
	"lightgreen": "ff90ee90",
	"green":      "ff008000",
	"gray":       "ff808080",
}

type kmlDoc struct {
	XMLName  xml.Name `xml:"kml"`
	NS       string   `xml:"xmlns,attr"`
	Document kmlDocument
}

type kmlDocument struct {
	Name       string         `xml:"name"`
	Styles     []kmlStyle     `xml:"Style"`
	Placemarks []kmlPlacemark `xml:"Placemark"`
}

type kmlStyle struct {
	ID        string        `xml:"id,attr"`
	IconStyle *kmlIconStyle `xml:"IconStyle,omitempty"`
	LineStyle *kmlLineStyle `xml:"LineStyle,omitempty"`
}

type kmlIconStyle struct {
	Color string `xml:"color"`
}

type kmlLineStyle struct {
	Color string  `xml:"color"`
	Width float64 `xml:"width"`
}

type kmlPlacemark struct {
	Name        string         `xml:"name,omitempty"`
	Description string         `xml:"description,omitempty"`
	StyleURL    string         `xml:"styleUrl"`
	Point       *kmlPoint      `xml:"Point,omitempty"`
	LineString  *kmlLineString `xml:"LineString,omitempty"`
}

type kmlPoint struct {
	Coordinates string `xml:"coordinates"`
}

type kmlLineString struct {
	Tessellate  int    `xml:"tessellate"`
	Coordinates string `xml:"coordinates"`
}

// WriteKML renders points as a blue path plus one placemark per point colored
// by modem quality. Points without a quality score are gray.
func WriteKML(w io.Writer, name string, points []Point) error {
	doc := kmlDoc{NS: "http://www.opengis.net/kml/2.2"}
	doc.Document.Name = name
	doc.Document.Styles = append(doc.Document.Styles, kmlStyle{
		ID:        "path",
		LineStyle: &kmlLineStyle{Color: "ffff0000", Width: 2.5},
	})
	for _, c := range []string{"red", "orange", "lightgreen", "green", "gray"} {
		doc.Document.Styles = append(doc.Document.Styles, kmlStyle{
			ID:        c,
			IconStyle: &kmlIconStyle{Color: kmlColors[c]},
		})
	}

	if len(points) > 1 {
		coords := make([]string, len(points))
		for i, p := range points {
			coords[i] = kmlCoord(p)
		}
		doc.Document.Placemarks = append(doc.Document.Placemarks, kmlPlacemark{
			Name:       "path",
			StyleURL:   "#path",
			LineString: &kmlLineString{Tessellate: 1, Coordinates: strings.Join(coords, " ")},
		})
	}
	for _, p := range points {
		style := "gray"
		if p.HasQuality {
			style = Color(p.Quality)
		}
		doc.Document.Placemarks = append(doc.Document.Placemarks, kmlPlacemark{
			Name:        pointLabel(p),
			Description: pointDescription(p),
			StyleURL:    "#" + style,
			Point:       &kmlPoint{Coordinates: kmlCoord(p)},
		})
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode kml: %w", err)
	}
	if err := enc.Flush(); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func kmlCoord(p Point) string {
	return strconv.FormatFloat(p.Lon, 'f', 7, 64) + "," +
		strconv.FormatFloat(p.Lat, 'f', 7, 64) + "," +
		strconv.FormatFloat(p.Alt, 'f', 1, 64)
}

func pointLabel(p Point) string {
	if !p.Time.IsZero() {
		return p.Time.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("+%.1fs", p.At.Seconds())
}

func pointDescription(p Point) string {
	var parts []string
	if p.HasQuality {
		parts = append(parts, fmt.Sprintf("Quality: %.1f", p.Quality))
	}
	if p.HasCNo {
		parts = append(parts, fmt.Sprintf("Average max CNo: %.1f", p.MaxCNo))
	}
	return strings.Join(parts, "; ")
}

// WriteGeoJSON renders points as a FeatureCollection holding the path as a
// LineString followed by one Point feature per sample.
func WriteGeoJSON(w io.Writer, points []Point) error {
	fc := geojson.NewFeatureCollection()
	if len(points) > 1 {
		line := make(orb.LineString, len(points))
		for i, p := range points {
			line[i] = orb.Point{p.Lon, p.Lat}
		}
		f := geojson.NewFeature(line)
		f.Properties["kind"] = "path"
		fc.Append(f)
	}
	for _, p := range points {
		f := geojson.NewFeature(orb.Point{p.Lon, p.Lat})
		f.Properties["kind"] = "sample"
		f.Properties["elapsed_s"] = p.At.Seconds()
		f.Properties["altitude"] = p.Alt
		if !p.Time.IsZero() {
			f.Properties["time"] = p.Time.UTC().Format(time.RFC3339Nano)
		}
		if p.HasQuality {
			f.Properties["quality"] = p.Quality
			f.Properties["color"] = Color(p.Quality)
		}
		if p.HasCNo {
			f.Properties["max_cno"] = p.MaxCNo
		}
		fc.Append(f)
	}
	b, err := fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode geojson: %w", err)
	}
	_, err = w.Write(b)
	return err
}
