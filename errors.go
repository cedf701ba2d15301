package asyncssr

import "errors"

// ErrAborted reports a render abandoned entirely: async work opted out of
// server rendering with no Suspense boundary above it to absorb the
// opt-out.
var ErrAborted = errors.New("asyncssr: render aborted, async work opted out of server rendering outside any boundary")

// ErrBudgetExceeded reports that a render overran a configured cap on tree
// nodes or outstanding async regions. See WithMaxNodes and WithMaxPending.
var ErrBudgetExceeded = errors.New("asyncssr: render budget exceeded")
