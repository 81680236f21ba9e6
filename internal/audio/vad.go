package audio

// VADConfig holds configuration for Voice Activity Detection
type VADConfig struct {
	EnergyThreshold float64 // RMS energy threshold for speech detection
	HoldSamples     int     // Consecutive speech samples required before onset fires
	SilenceSamples  int     // Consecutive silence samples to mark as end of speech
}

// DefaultVADConfig returns a default VAD configuration for 16kHz mono input
func DefaultVADConfig() *VADConfig {
	return &VADConfig{
		EnergyThreshold: 500.0, // Adjust based on testing
		HoldSamples:     960,   // 60ms at 16kHz, rejects single-chunk spikes
		SilenceSamples:  8000,  // 500ms at 16kHz
	}
}

// VADDetector performs Voice Activity Detection over variable-size chunks.
// Browser capture does not deliver fixed frames, so the detector counts
// samples rather than frames.
type VADDetector struct {
	config     *VADConfig
	speechRun  int
	silenceRun int
	isSpeaking bool
}

// NewVADDetector creates a new VAD detector
func NewVADDetector(config *VADConfig) *VADDetector {
	if config == nil {
		config = DefaultVADConfig()
	}
	return &VADDetector{
		config: config,
	}
}

// ProcessChunk processes a chunk of samples and returns the speaking state
// transitions. A chunk is classified as speech or silence by its RMS energy.
// Returns: (isSpeaking, speechStarted, speechEnded)
func (v *VADDetector) ProcessChunk(samples []int16) (bool, bool, bool) {
	if len(samples) == 0 {
		return v.isSpeaking, false, false
	}

	rms := CalculateRMS(samples)
	chunkHasSpeech := rms > v.config.EnergyThreshold

	var speechStarted, speechEnded bool

	if chunkHasSpeech {
		v.silenceRun = 0
		v.speechRun += len(samples)

		// Onset fires only after the hold window, so a single loud
		// chunk does not open a segment
		if !v.isSpeaking && v.speechRun >= v.config.HoldSamples {
			speechStarted = true
			v.isSpeaking = true
		}
	} else {
		v.speechRun = 0
		v.silenceRun += len(samples)

		if v.isSpeaking && v.silenceRun >= v.config.SilenceSamples {
			speechEnded = true
			v.isSpeaking = false
			v.silenceRun = 0
		}
	}

	return v.isSpeaking, speechStarted, speechEnded
}

// Reset resets the VAD detector state
func (v *VADDetector) Reset() {
	v.speechRun = 0
	v.silenceRun = 0
	v.isSpeaking = false
}

// IsSpeaking returns whether speech is currently detected
func (v *VADDetector) IsSpeaking() bool {
	return v.isSpeaking
}

// SetThreshold updates the energy threshold. Takes effect on the next chunk.
func (v *VADDetector) SetThreshold(threshold float64) {
	v.config.EnergyThreshold = threshold
}

// SetSilenceSamples updates the end-of-speech silence window.
func (v *VADDetector) SetSilenceSamples(samples int) {
	v.config.SilenceSamples = samples
}

// DetectSilence detects if audio samples represent silence
// Uses a simple energy threshold
func DetectSilence(samples []int16, threshold float64) bool {
	return CalculateRMS(samples) < threshold
}
