package fanoutqueue

const (
	logPrefixErr           = "error"
	logPrefixTopic         = "topic"
	logPrefixSubscriber    = "subscriber"
	logPrefixBucket        = "bucket"
	logPrefixMessageId     = "message_id"
	logPrefixMessageStatus = "message_status"
	logPrefixReceiveCount  = "receive_count"
	logPrefixSource        = "source"
	logPrefixObjectKey     = "object_key"
	logPrefixBatchSize     = "batch_size"
	logPrefixFailed        = "failed"
)
