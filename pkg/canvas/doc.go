/*
Package canvas streams rendered plots from the worker process to the GUI
process and replays the GUI's input back.

The split mirrors the workflow package: Local is a raster sink in the GUI
process that holds the latest frame and forwards resize and pointer events;
Remote wraps the actual rendering surface (a Figure) in the worker process,
pushes frames downstream, and replays the forwarded events onto it. Remote
satisfies the workflow package's Renderer interface, so plot calls in the
remote engine draw straight onto it.

Traffic is shaped for interactivity rather than completeness. Frames
coalesce on the remote side (a newer frame replaces an unsent older one),
mouse moves coalesce on the local side, and resizes are debounced so a live
window drag becomes a single remote re-render.
*/
package canvas
