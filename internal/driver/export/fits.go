// Package export writes published frames to FITS and PNG.
package export

import (
	"image/png"
	"io"

	"github.com/astrogo/fitsio"
	"github.com/warpcomdev/ts413camera/internal/driver/camera"
	"github.com/warpcomdev/ts413camera/internal/driver/frame"
)

// HeaderVersion of the FITS cards written by Header
const HeaderVersion = "1"

// Header builds the FITS cards describing a frame
func Header(info camera.FrameInfo) []fitsio.Card {
	imageType := "Light Frame"
	if !info.Light {
		imageType = "Dark Frame"
	}
	return []fitsio.Card{
		{Name: "HDRVER", Value: HeaderVersion, Comment: "header version"},
		{Name: "INSTRUME", Value: camera.CameraName, Comment: "camera"},
		{Name: "SENSOR", Value: camera.SensorName},
		{Name: "FRAMEID", Value: info.ID.String()},
		{Name: "DATE-OBS", Value: info.Start.UTC().Format(camera.StartTimeLayout), Comment: "exposure start, UTC"},
		{Name: "EXPTIME", Value: info.Duration, Comment: "[s] exposure time"},
		{Name: "IMAGETYP", Value: imageType},
		{Name: "GAIN", Value: int(info.Gain), Comment: "analog gain"},
		{Name: "XPIXSZ", Value: camera.PixelSize, Comment: "[um] pixel width"},
		{Name: "YPIXSZ", Value: camera.PixelSize, Comment: "[um] pixel height"},
		{Name: "XBINNING", Value: 1},
		{Name: "YBINNING", Value: 1},
		{Name: "EGAIN", Value: float64(camera.ElectronsPerADU), Comment: "[e-/ADU]"},
		{Name: "BAYERPAT", Value: "RGGB"},
		{Name: "XBAYROFF", Value: camera.BayerOffsetX},
		{Name: "YBAYROFF", Value: camera.BayerOffsetY},
	}
}

// WriteFITS streams the matrix as a 16 bit FITS image to w
func WriteFITS(w io.Writer, m *frame.Matrix, metadata []fitsio.Card) error {
	metadata = append(metadata, fitsio.Card{Name: "BZERO", Value: 32768}, fitsio.Card{Name: "BSCALE", Value: 1.0})
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	im := fitsio.NewImage(16, []int{m.Width, m.Height})
	defer im.Close()
	if err := im.Header().Append(metadata...); err != nil {
		return err
	}
	ints := make([]int16, len(m.Pix))
	for idx, v := range m.Pix {
		ints[idx] = int16(int32(v) - 32768)
	}
	if err := im.Write(ints); err != nil {
		return err
	}
	return fits.Write(im)
}

// WritePNG encodes the matrix as a 16 bit grayscale PNG
func WritePNG(w io.Writer, m *frame.Matrix) error {
	return png.Encode(w, m.Gray16())
}
