package schema

// Attribute names read from engine-native objects, in declaration order.

func WordKeys() []string {
	return []string{"start", "end", "word", "probability"}
}

func SegmentKeys() []string {
	return []string{
		"id", "seek", "start", "end", "text", "tokens", "avg_logprob",
		"compression_ratio", "no_speech_prob", "words", "temperature",
	}
}

func VADOptionsKeys() []string {
	return []string{
		"onset", "offset", "min_speech_duration_ms", "max_speech_duration_s",
		"min_silence_duration_ms", "speech_pad_ms",
	}
}

func TranscriptionOptionsKeys() []string {
	return []string{
		"task", "language", "beam_size", "best_of", "patience", "length_penalty",
		"repetition_penalty", "no_repeat_ngram_size", "temperature",
		"compression_ratio_threshold", "log_prob_threshold", "no_speech_threshold",
		"initial_prompt", "prefix", "suppress_blank", "suppress_tokens",
		"word_timestamps", "prepend_punctuations", "append_punctuations",
		"vad_parameters", "max_new_tokens", "chunk_length", "hotwords",
		"condition_on_previous_text", "prompt_reset_on_temperature", "temperatures",
		"without_timestamps", "max_initial_timestamp", "multilingual",
		"clip_timestamps", "hallucination_silence_threshold",
	}
}

func TranscriptionInfoKeys() []string {
	return []string{
		"language", "language_probability", "duration", "duration_after_vad",
		"all_language_probs", "transcription_options", "vad_options",
	}
}
