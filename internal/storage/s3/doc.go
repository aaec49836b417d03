/*
Package s3 implements pkg/types.ObjectStore against Amazon S3.

Backend holds an AWS SDK for Go v2 client directly and,
when Config.EnableCargoShipOptimization is set, routes PutObject
through CargoShip's accelerated transporter, falling back to a plain
client.PutObject if the transporter call fails.

# Storage classes

Config.StorageTier picks the class new objects are written with
(one of TierStandard, TierStandardIA, TierGlacierIR, TierGlacier,
TierDeepArchive). CreateMultipartUpload checks whether the target key
already exists and, if so, keeps its current class instead of
applying this default, so a mixupload plan dominated by COPY parts
never migrates an archived object back to a warmer tier.

# Multipart uploads

CreateMultipartUpload, UploadPart, UploadPartCopy,
CompleteMultipartUpload, and AbortMultipartUpload track upload
progress through a MultipartStateManager, and record counts and
latency through a MetricsCollector queried via Backend.GetMetrics.
*/
package s3
