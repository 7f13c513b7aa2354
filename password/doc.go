// Package password implements salted password hashing and verification.
//
// # Output format
//
// Argon2id hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// bcrypt hashes use the standard modular crypt format ($2a$, $2b$, $2y$).
// [Multi] verifies either format so stored hashes can migrate between algorithms, and
// NeedsUpgrade reports when a stored hash should be re-hashed on next successful login.
//
// # Architecture boundaries
//
// This package owns hashing and verification only. Password policy (length, character
// classes) is enforced by the Engine. [Pool] bounds the number of concurrent hash
// computations so a burst of logins cannot starve other request handling.
package password
