/*

Package backstore keeps the books for a content-addressed backup
store: which accounts exist, and how many live references point at
each stored object, so that garbage collection knows what it may
delete.

The rolling checksum used to find unchanged blocks between two
versions of a file lives in the rollsum subpackage.

Vocabulary:

- store: a directory holding the account registry and one storage
  root per account
- account: an owner of backup data, named by a 32-bit id
- storage root: the directory holding one account's files
- object: one stored unit of backup data, named by an object id
  starting at 1
- refcount database: per-account file mapping object id to the number
  of references to that object
- slot: the 4-byte record holding one object's count
- last object id: the highest object id the refcount database covers;
  derived from the file size
- sparse extension: growing a file by writing past its end, where the
  skipped bytes read back as zero

*/

package backstore
