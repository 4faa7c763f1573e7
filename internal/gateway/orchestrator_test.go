package gateway

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

// recordingService notes start/stop order into a shared journal.
type recordingService struct {
	name     string
	journal  *[]string
	startErr error
}

func (r *recordingService) Start() error {
	if r.startErr != nil {
		return r.startErr
	}
	*r.journal = append(*r.journal, "start:"+r.name)
	return nil
}

func (r *recordingService) Stop() error {
	*r.journal = append(*r.journal, "stop:"+r.name)
	return nil
}

func TestOrchestrator_StartsInOrderStopsInReverse(t *testing.T) {
	var journal []string
	o := NewOrchestrator(0, zerolog.Nop())
	o.Register("a", &recordingService{name: "a", journal: &journal})
	o.Register("b", &recordingService{name: "b", journal: &journal})
	o.Register("c", &recordingService{name: "c", journal: &journal})

	assert.NoError(t, o.Start())
	o.Shutdown()

	assert.Equal(t, []string{
		"start:a", "start:b", "start:c",
		"stop:c", "stop:b", "stop:a",
	}, journal)
}

func TestOrchestrator_StartFailureRollsBack(t *testing.T) {
	var journal []string
	o := NewOrchestrator(0, zerolog.Nop())
	o.Register("a", &recordingService{name: "a", journal: &journal})
	o.Register("b", &recordingService{name: "b", journal: &journal, startErr: errors.New("boom")})
	o.Register("c", &recordingService{name: "c", journal: &journal})

	err := o.Start()
	assert.Error(t, err)

	// a started and was rolled back; b failed; c never ran.
	assert.Equal(t, []string{"start:a", "stop:a"}, journal)
}

func TestOrchestrator_ShutdownIsIdempotent(t *testing.T) {
	var journal []string
	o := NewOrchestrator(0, zerolog.Nop())
	o.Register("a", &recordingService{name: "a", journal: &journal})

	assert.NoError(t, o.Start())
	assert.Equal(t, StateRunning, o.State())

	o.Shutdown()
	o.Shutdown() // the fatal-error path may call this again
	o.Shutdown()

	assert.Equal(t, StateStopping, o.State())
	assert.Equal(t, []string{"start:a", "stop:a"}, journal)
}

func TestOrchestrator_DuplicateRegistrationIgnored(t *testing.T) {
	var journal []string
	o := NewOrchestrator(0, zerolog.Nop())
	o.Register("a", &recordingService{name: "a", journal: &journal})
	o.Register("a", &recordingService{name: "dup", journal: &journal})

	assert.NoError(t, o.Start())
	assert.Equal(t, []string{"start:a"}, journal)
}
