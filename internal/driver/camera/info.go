package camera

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cameraInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ts413_camera_info",
			Help: "Description of the camera properties",
		},
		[]string{
			"Name",
			"SensorName",
			"SensorType",
			"MaxWidth",
			"MaxHeight",
			"PixelSize",
			"ElecPerADU",
			"MaxADU",
		},
	)
)

// Sensor and driver capabilities
const (
	CameraName          = "Mallincam Universe"
	SensorName          = "ICX413AQ-S"
	CCDWidth            = 3032
	CCDHeight           = 2018
	PixelSize           = 7.8 // microns
	GainMin             = 25
	GainMax             = 960
	DefaultGain         = 25
	MaxADU              = 4096
	ElectronsPerADU     = 16
	FullWellCapacity    = 65535
	ExposureMin         = 0.001 // seconds
	ExposureMax         = 3360
	ExposureResolution  = 0.001
	LongExposureSeconds = 30
	BayerOffsetX        = 0
	BayerOffsetY        = 0
)

// StartTimeLayout formats exposure start times, always in UTC
const StartTimeLayout = "2006-01-02T15:04:05"

// Info describes the camera capabilities
type Info struct {
	Name               string     `json:"name"`
	SensorName         string     `json:"sensorName"`
	SensorType         SensorType `json:"sensorType"`
	CameraXSize        int        `json:"cameraXSize"`
	CameraYSize        int        `json:"cameraYSize"`
	PixelSizeX         float64    `json:"pixelSizeX"`
	PixelSizeY         float64    `json:"pixelSizeY"`
	GainMin            int        `json:"gainMin"`
	GainMax            int        `json:"gainMax"`
	MaxADU             int        `json:"maxADU"`
	ElectronsPerADU    float64    `json:"electronsPerADU"`
	FullWellCapacity   float64    `json:"fullWellCapacity"`
	ExposureMin        float64    `json:"exposureMin"`
	ExposureMax        float64    `json:"exposureMax"`
	ExposureResolution float64    `json:"exposureResolution"`
	BayerOffsetX       int        `json:"bayerOffsetX"`
	BayerOffsetY       int        `json:"bayerOffsetY"`
	MaxBinX            int        `json:"maxBinX"`
	MaxBinY            int        `json:"maxBinY"`
	HasShutter         bool       `json:"hasShutter"`
	CanAbortExposure   bool       `json:"canAbortExposure"`
	CanStopExposure    bool       `json:"canStopExposure"`
	CanSetCCDTemp      bool       `json:"canSetCCDTemperature"`
}

// Capabilities of the TS413 camera
func Capabilities() Info {
	return Info{
		Name:               CameraName,
		SensorName:         SensorName,
		SensorType:         SensorRGGB,
		CameraXSize:        CCDWidth,
		CameraYSize:        CCDHeight,
		PixelSizeX:         PixelSize,
		PixelSizeY:         PixelSize,
		GainMin:            GainMin,
		GainMax:            GainMax,
		MaxADU:             MaxADU,
		ElectronsPerADU:    ElectronsPerADU,
		FullWellCapacity:   FullWellCapacity,
		ExposureMin:        ExposureMin,
		ExposureMax:        ExposureMax,
		ExposureResolution: ExposureResolution,
		BayerOffsetX:       BayerOffsetX,
		BayerOffsetY:       BayerOffsetY,
		MaxBinX:            1,
		MaxBinY:            1,
	}
}

func registerInfo(info Info) {
	cameraInfo.WithLabelValues(
		info.Name,
		info.SensorName,
		info.SensorType.String(),
		strconv.Itoa(info.CameraXSize),
		strconv.Itoa(info.CameraYSize),
		fmt.Sprintf("%f", info.PixelSizeX),
		fmt.Sprintf("%f", info.ElectronsPerADU),
		strconv.Itoa(info.MaxADU),
	).Set(1)
}
