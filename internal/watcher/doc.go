// Package watcher reports changes to script files.
//
// Editors commonly save by writing a temporary file and renaming it over
// the original, which drops a watch placed on the file itself. The watcher
// therefore watches each script's directory and filters events down to the
// registered files. Rapid successive changes to one file are coalesced.
package watcher
