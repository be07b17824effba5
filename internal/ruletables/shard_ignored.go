package ruletables

// WiredTiger statistics that are reported but not exported.

var cacheIgnored = []string{
	"bytes belonging to page images in the cache",
	"bytes currently in the cache",
	"bytes not belonging to page images in the cache",
	"bytes read into cache",
	"bytes written from cache",
	"checkpoint blocked page eviction",
	"eviction calls to get a page",
	"eviction calls to get a page found queue empty",
	"eviction calls to get a page found queue empty after locking",
	"eviction currently operating in aggressive mode",
	"eviction empty score",
	"eviction server candidate queue empty when topping up",
	"eviction server candidate queue not empty when topping up",
	"eviction server evicting pages",
	"eviction server slept, because we did not make progress with eviction",
	"eviction server unable to reach eviction goal",
	"eviction state",
	"eviction walks abandoned",
	"eviction worker thread evicting pages",
	"failed eviction of pages that exceeded the in-memory maximum",
	"files with active eviction walks",
	"files with new eviction walks started",
	"hazard pointer blocked page eviction",
	"hazard pointer check calls",
	"hazard pointer check entries walked",
	"hazard pointer maximum array length",
	"in-memory page passed criteria to be split",
	"in-memory page splits",
	"internal pages evicted",
	"internal pages split during eviction",
	"leaf pages split during eviction",
	"lookaside table insert calls",
	"lookaside table remove calls",
	"maximum bytes configured",
	"maximum page size at eviction",
	"modified pages evicted",
	"modified pages evicted by application threads",
	"overflow pages read into cache",
	"overflow values cached in memory",
	"page split during eviction deepened the tree",
	"page written requiring lookaside records",
	"pages currently held in the cache",
	"pages evicted because they exceeded the in-memory maximum",
	"pages evicted because they had chains of deleted items",
	"pages evicted by application threads",
	"pages queued for eviction",
	"pages queued for urgent eviction",
	"pages queued for urgent eviction during walk",
	"pages read into cache",
	"pages read into cache requiring lookaside entries",
	"pages requested from the cache",
	"pages seen by eviction walk",
	"pages selected for eviction unable to be evicted",
	"pages walked for eviction",
	"pages written from cache",
	"pages written requiring in-memory restoration",
	"percentage overhead",
	"tracked bytes belonging to internal pages in the cache",
	"tracked bytes belonging to leaf pages in the cache",
	"tracked dirty bytes in the cache",
	"tracked dirty pages in the cache",
	"unmodified pages evicted",
}

var dataHandleIgnored = []string{
	"connection data handles currently active",
	"connection sweep candidate became referenced",
	"connection sweep dhandles closed",
	"connection sweep dhandles removed from hash list",
	"connection sweep time-of-death sets",
	"connection sweeps",
	"session dhandles swept",
	"session sweep attempts",
}

var reconciliationIgnored = []string{
	"fast-path pages deleted",
	"page reconciliation calls",
	"page reconciliation calls for eviction",
	"pages deleted",
	"split bytes currently awaiting free",
	"split objects currently awaiting free",
}

var transactionIgnored = []string{
	"number of named snapshots created",
	"number of named snapshots dropped",
	"transaction begins",
	"transaction checkpoint currently running",
	"transaction checkpoint generation",
	"transaction checkpoint max time (msecs)",
	"transaction checkpoint min time (msecs)",
	"transaction checkpoint most recent time (msecs)",
	"transaction checkpoint scrub dirty target",
	"transaction checkpoint scrub time (msecs)",
	"transaction checkpoint total time (msecs)",
	"transaction checkpoints",
	"transaction failures due to cache overflow",
	"transaction fsync calls for checkpoint after allocating the transaction ID",
	"transaction fsync duration for checkpoint after allocating the transaction ID (usecs)",
	"transaction range of IDs currently pinned",
	"transaction range of IDs currently pinned by a checkpoint",
	"transaction range of IDs currently pinned by named snapshots",
	"transaction sync calls",
	"transactions committed",
	"transactions rolled back",
}

var sessionIgnored = []string{
	"open cursor count",
	"open session count",
	"table compact failed calls",
	"table compact successful calls",
	"table create failed calls",
	"table create successful calls",
	"table drop failed calls",
	"table drop successful calls",
	"table rebalance failed calls",
	"table rebalance successful calls",
	"table rename failed calls",
	"table rename successful calls",
	"table salvage failed calls",
	"table salvage successful calls",
	"table truncate failed calls",
	"table truncate successful calls",
	"table verify failed calls",
	"table verify successful calls",
}

var logIgnored = []string{
	"busy returns attempting to switch slots",
	"consolidated slot closures",
	"consolidated slot join races",
	"consolidated slot join transitions",
	"consolidated slot joins",
	"consolidated slot unbuffered writes",
	"log bytes of payload data",
	"log bytes written",
	"log files manually zero-filled",
	"log flush operations",
	"log force write operations",
	"log force write operations skipped",
	"log records compressed",
	"log records not compressed",
	"log records too small to compress",
	"log release advances write LSN",
	"log scan operations",
	"log scan records requiring two reads",
	"log server thread advances write LSN",
	"log server thread write LSN walk skipped",
	"log sync operations",
	"log sync time duration (usecs)",
	"log sync_dir operations",
	"log sync_dir time duration (usecs)",
	"log write operations",
	"logging bytes consolidated",
	"maximum log file size",
	"number of pre-allocated log files to create",
	"pre-allocated log files not ready and missed",
	"pre-allocated log files prepared",
	"pre-allocated log files used",
	"records processed by log scan",
	"total in-memory size of compressed records",
	"total log buffer size",
	"total size of compressed records",
	"written slots coalesced",
	"yields waiting for previous log file close",
}
