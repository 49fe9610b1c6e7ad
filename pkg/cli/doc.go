// Package cli implements the gatehouse administration command.
//
// Commands are plain flag sets grouped into a tree:
//
//	gatehouse migrate
//	gatehouse check -subject u1 -role USER -type FOLDER -id f1 -permission read
//	gatehouse accessible -subject u1 -type DOCUMENT -ids d1,d2,d3
//	gatehouse rule create -type FOLDER -id f1 -target-type GROUP -target-id g1 -permissions read,write -inherit -actor admin
//	gatehouse rule remove -id <rule id> -actor admin
//	gatehouse rule list -type FOLDER -id f1
//	gatehouse group add -group g1 -subject u1
//	gatehouse project assign -project p1 -subject u1 -role editor
//	gatehouse folder move -id f2 -parent f1
//	gatehouse folder verify
//	gatehouse audit -subject u1
//
// Every command opens the application through an Opener, so tests can run
// the same commands against an in-memory database.
package cli
