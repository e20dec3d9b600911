package sound

// Playable is anything that can be told to play and stop. Every sound source
// implements it, and NoSound stands in where no sound is wanted.
type Playable interface {
	Play()
	Stop()
}

type noSound struct{}

func (noSound) Play() {}
func (noSound) Stop() {}

// NoSound is a Playable that does nothing. Use it instead of nil wherever a
// component optionally makes sound.
var NoSound Playable = noSound{}
