// Command ferry uploads transcripts and their media to a LaBB-CAT corpus
// server, and deletes them again.
//
// Files and directories given on the command line are classified against the
// server's declared transcript formats and media tracks, grouped into entries
// by base name, and checked for existing copies on the server. The upload and
// delete commands then drive each entry through its state machine, printing
// progress and a final table; finished runs are recorded in a local journal
// so their CSV report can be regenerated later. The check and logs commands
// help with setup problems and with looking back at a run.
package main
