// Package speech defines the provider-neutral speech-to-text and
// text-to-speech contracts the cascade pipeline is built on. Concrete
// providers (Azure Speech, Deepgram, ElevenLabs) implement these
// interfaces; the pipeline never imports a vendor SDK directly.
package speech
