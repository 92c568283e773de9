package fingerprint

import (
	"bytes"
	"time"

	"github.com/rwcarlsen/goexif/exif"
)

// EXIF holds the metadata fields kept for a still image. Zero values mean
// the tag was absent.
type EXIF struct {
	GPSLat      *float64
	GPSLon      *float64
	GPSAlt      *float64
	CaptureDate *time.Time
	CameraMake  string
	CameraModel string
}

// ExtractEXIF reads EXIF tags from raw image bytes. Images without EXIF, or
// with unreadable EXIF, yield an empty result.
func ExtractEXIF(data []byte) EXIF {
	var out EXIF
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return out
	}

	if lat, lon, err := x.LatLong(); err == nil {
		out.GPSLat, out.GPSLon = &lat, &lon
	}
	if tag, err := x.Get(exif.GPSAltitude); err == nil {
		if num, den, err := tag.Rat2(0); err == nil && den != 0 {
			alt := float64(num) / float64(den)
			if ref, err := x.Get(exif.GPSAltitudeRef); err == nil {
				if v, err := ref.Int(0); err == nil && v == 1 {
					alt = -alt
				}
			}
			out.GPSAlt = &alt
		}
	}
	if t, err := x.DateTime(); err == nil {
		out.CaptureDate = &t
	}
	out.CameraMake = stringTag(x, exif.Make)
	out.CameraModel = stringTag(x, exif.Model)
	return out
}

func stringTag(x *exif.Exif, name exif.FieldName) string {
	tag, err := x.Get(name)
	if err != nil {
		return ""
	}
	s, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return s
}
