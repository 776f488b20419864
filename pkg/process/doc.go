/*
Package process spawns the worker process and wires up the two pipes it
shares with the GUI process.

The parent calls Spawn, which hands the child four inherited pipe ends and
returns the parent-side workflow and canvas ports; the child calls
ChildPorts to recover its ends. Each port is a plain io.ReadWriteCloser,
ready to hand to channel.New.
*/
package process
