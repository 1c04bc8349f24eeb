package manifest

// Встроенные манифесты двух аудио-сервисов. Каталог MANIFEST_DIR может
// переопределить их или добавить новые сервисы.

func floatPtr(f float64) *float64 { return &f }

// builtinManifests возвращает свежие копии встроенных манифестов.
func builtinManifests() []*Manifest {
	return []*Manifest{flucomaManifest(), librosaManifest()}
}

// flucomaManifest — операции FluCoMa CLI (Fluid Corpus Manipulation).
func flucomaManifest() *Manifest {
	fftParams := map[string]ParamSpec{
		"-fftsettings": {Type: ParamString},
		"-windowsize":  {Type: ParamInt, Min: floatPtr(4), Max: floatPtr(65536)},
		"-hopsize":     {Type: ParamInt, Min: floatPtr(1), Max: floatPtr(65536)},
	}

	withFFT := func(extra map[string]ParamSpec) map[string]ParamSpec {
		params := make(map[string]ParamSpec, len(fftParams)+len(extra))
		for k, v := range fftParams {
			params[k] = v
		}
		for k, v := range extra {
			params[k] = v
		}
		return params
	}

	return &Manifest{
		Service: "flucoma",
		Operations: map[string]Operation{
			"fluid-hpss": {
				Program: "fluid-hpss",
				Parameters: withFFT(map[string]ParamSpec{
					"-harmfiltersize": {Type: ParamInt, Min: floatPtr(3), Max: floatPtr(101)},
					"-percfiltersize": {Type: ParamInt, Min: floatPtr(3), Max: floatPtr(101)},
					"-maskingmode":    {Type: ParamInt, Min: floatPtr(0), Max: floatPtr(2)},
				}),
				Deterministic:   true,
				CacheTTLMinutes: 1440,
				TimeoutSec:      600,
			},
			"fluid-pitch": {
				Program: "fluid-pitch",
				Parameters: withFFT(map[string]ParamSpec{
					"-algorithm": {Type: ParamInt, Min: floatPtr(0), Max: floatPtr(2)},
					"-minfreq":   {Type: ParamFloat, Min: floatPtr(0), Max: floatPtr(10000)},
					"-maxfreq":   {Type: ParamFloat, Min: floatPtr(0), Max: floatPtr(20000)},
					"-unit":      {Type: ParamInt, Min: floatPtr(0), Max: floatPtr(1)},
				}),
				Deterministic:   true,
				CacheTTLMinutes: 1440,
				TimeoutSec:      300,
			},
			"fluid-mfcc": {
				Program: "fluid-mfcc",
				Parameters: withFFT(map[string]ParamSpec{
					"-numcoeffs": {Type: ParamInt, Min: floatPtr(2), Max: floatPtr(40)},
					"-numbands":  {Type: ParamInt, Min: floatPtr(2), Max: floatPtr(120)},
				}),
				Deterministic:   true,
				CacheTTLMinutes: 1440,
				TimeoutSec:      300,
			},
			"fluid-spectralshape": {
				Program:         "fluid-spectralshape",
				Parameters:      withFFT(nil),
				Deterministic:   true,
				CacheTTLMinutes: 1440,
				TimeoutSec:      300,
			},
			"fluid-loudness": {
				Program: "fluid-loudness",
				Parameters: withFFT(map[string]ParamSpec{
					"-kweighting": {Type: ParamInt, Min: floatPtr(0), Max: floatPtr(1)},
					"-truepeak":   {Type: ParamInt, Min: floatPtr(0), Max: floatPtr(1)},
				}),
				Deterministic:   true,
				CacheTTLMinutes: 1440,
				TimeoutSec:      300,
			},
			"fluid-ampslice": {
				Program: "fluid-ampslice",
				Parameters: map[string]ParamSpec{
					"-fastrampup":   {Type: ParamInt, Min: floatPtr(1), Max: floatPtr(44100)},
					"-fastrampdown": {Type: ParamInt, Min: floatPtr(1), Max: floatPtr(44100)},
					"-onthreshold":  {Type: ParamFloat, Min: floatPtr(-144), Max: floatPtr(144)},
					"-offthreshold": {Type: ParamFloat, Min: floatPtr(-144), Max: floatPtr(144)},
				},
				Deterministic:   true,
				CacheTTLMinutes: 1440,
				TimeoutSec:      300,
			},
			"fluid-onsetslice": {
				Program: "fluid-onsetslice",
				Parameters: withFFT(map[string]ParamSpec{
					"-metric":    {Type: ParamInt, Min: floatPtr(0), Max: floatPtr(9)},
					"-threshold": {Type: ParamFloat, Min: floatPtr(0), Max: floatPtr(2)},
				}),
				Deterministic:   true,
				CacheTTLMinutes: 1440,
				TimeoutSec:      300,
			},
			"fluid-noveltyslice": {
				Program: "fluid-noveltyslice",
				Parameters: withFFT(map[string]ParamSpec{
					"-feature":   {Type: ParamInt, Min: floatPtr(0), Max: floatPtr(4)},
					"-threshold": {Type: ParamFloat, Min: floatPtr(0), Max: floatPtr(1)},
				}),
				Deterministic:   true,
				CacheTTLMinutes: 1440,
				TimeoutSec:      300,
			},
		},
	}
}

// librosaManifest — операции librosa-обёртки.
// librosa-slice — fan-out producer: выдаёт индексированный набор slice.N.
func librosaManifest() *Manifest {
	return &Manifest{
		Service: "librosa",
		Operations: map[string]Operation{
			"librosa-slice": {
				Program: "librosa-slice",
				Parameters: map[string]ParamSpec{
					"--segments":   {Type: ParamInt, Required: true, Min: floatPtr(1), Max: floatPtr(256)},
					"--min-length": {Type: ParamFloat, Min: floatPtr(0.01), Max: floatPtr(600)},
				},
				Deterministic:   true,
				CacheTTLMinutes: 1440,
				TimeoutSec:      600,
				FanOut:          &FanOutSpec{IndexedOutput: "slice"},
			},
			"librosa-mfcc": {
				Program: "librosa-mfcc",
				Parameters: map[string]ParamSpec{
					"--n-mfcc": {Type: ParamInt, Min: floatPtr(1), Max: floatPtr(128)},
					"--sr":     {Type: ParamInt, Min: floatPtr(8000), Max: floatPtr(192000)},
				},
				Deterministic:   true,
				CacheTTLMinutes: 1440,
				TimeoutSec:      300,
			},
			"librosa-resample": {
				Program: "librosa-resample",
				Parameters: map[string]ParamSpec{
					"--target-sr": {Type: ParamInt, Required: true, Min: floatPtr(8000), Max: floatPtr(192000)},
					"--res-type":  {Type: ParamString, Enum: []string{"kaiser_best", "kaiser_fast", "polyphase"}},
				},
				Deterministic:   true,
				CacheTTLMinutes: 1440,
				TimeoutSec:      300,
			},
			"librosa-trim": {
				Program: "librosa-trim",
				Parameters: map[string]ParamSpec{
					"--top-db": {Type: ParamFloat, Min: floatPtr(0), Max: floatPtr(144)},
				},
				Deterministic:   true,
				CacheTTLMinutes: 1440,
				TimeoutSec:      120,
			},
			"librosa-concat": {
				Program:    "librosa-concat",
				Parameters: map[string]ParamSpec{},
				// Конкатенация зависит от порядка поступления входов —
				// не кэшируется.
				Deterministic: false,
				TimeoutSec:    300,
			},
		},
	}
}
