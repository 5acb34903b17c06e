package mocks

//go:generate mockgen -source=./../relay/client.go -destination=./relayMocks/relay_mock.go -package=relayMocks
//go:generate mockgen -source=./../client/modules/keystore/keystore.go -destination=./clientMocks/keystore_mock.go -package=clientMocks
//go:generate mockgen -source=./../storage/types.go -destination=./storageMocks/storage_mock.go -package=storageMocks
//go:generate mockgen -source=./../client/repositories/job/job.go -destination=./repoMocks/job_mock.go -package=repoMocks
//go:generate mockgen -source=./../client/services/orchestrator/keygen.go -destination=./serviceMocks/keygen_mock.go -package=serviceMocks
//go:generate mockgen -source=./../client/services/orchestrator/sign.go -destination=./serviceMocks/sign_mock.go -package=serviceMocks
//go:generate mockgen -source=./../settlement/settlement.go -destination=./settlementMocks/settlement_mock.go -package=settlementMocks
