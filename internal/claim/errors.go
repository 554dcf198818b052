package claim

import (
	"fmt"

	"dirjobs/internal/jobstore"
	"dirjobs/internal/services"
)

var (
	// ErrInvalidWorkerID rejects worker IDs outside [A-Za-z0-9]+.
	ErrInvalidWorkerID = fmt.Errorf("%w: worker id may only contain letters and digits", services.ErrConfiguration)
	// ErrJobOutstanding is returned by Claim while the worker still holds an unresolved job.
	ErrJobOutstanding = fmt.Errorf("%w: worker already holds an unresolved job", services.ErrProtocol)
	// ErrHandleResolved is returned when Complete or Fail is called on a resolved handle.
	ErrHandleResolved = fmt.Errorf("%w: job handle already resolved", services.ErrProtocol)
	// ErrClaimLost reports that the worker's own running entry was missing at
	// verification time. The storage lost a write the worker saw succeed.
	ErrClaimLost = fmt.Errorf("%w: own running entry missing after claim", jobstore.ErrStorage)
)
