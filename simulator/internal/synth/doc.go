// Package synth generates synthetic battery telemetry with a simple aging
// model: capacity fades and internal resistance grows a little with every
// discharge cycle, with Gaussian measurement noise on top. The stream is
// deterministic for a given seed, which makes demo runs reproducible.
package synth
