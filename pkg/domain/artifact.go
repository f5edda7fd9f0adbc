package domain

import "time"

// SeedProducer is the producer recorded on artifacts supplied by the
// trigger rather than written by a stage.
const SeedProducer = "seed"

// Artifact describes one immutable blob produced during a run. The payload
// lives in the artifact store, addressed by its digest; the artifact itself
// is write-once per name within a run.
type Artifact struct {
	Name     string    `json:"name"`
	Stage    string    `json:"stage"`
	Digest   string    `json:"digest"`
	Size     int64     `json:"size"`
	StoredAt time.Time `json:"stored_at"`
}
