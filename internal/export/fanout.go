package export

import (
	"errors"

	"github.com/alanyoungcy/cfebook/internal/domain"
)

// Fanout forwards each update to every writer. All writers see the update
// even when an earlier one fails.
type Fanout []domain.UpdateWriter

func (f Fanout) Write(u domain.BBOUpdate) error {
	var errs []error
	for _, w := range f {
		if err := w.Write(u); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
