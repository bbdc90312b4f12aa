/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package mhd

// Result is the boolean-style sentinel spec.md SS6 requires of the
// access handler and similar entry points ("YES=1, NO=0").
type Result int

const (
	No  Result = 0
	Yes Result = 1
)

// AccessHandler is invoked at least twice per request (spec.md SS4.5):
// once when headers are ready (uploadData is nil) and
// again for each chunk of uploaded body, if any. session carries the
// per-connection state (headers, queue_response, client context);
// uploadData is the newly-available chunk of request body for this
// call, or nil on the headers-ready call and on the final
// zero-length call that signals end-of-body. The handler returns No
// to close the connection with an error, or Yes to continue; it
// signals "response ready" by calling session.QueueResponse, after
// which the FSM stops invoking the handler for this request.
type AccessHandler func(session *Connection, uploadData []byte) Result
