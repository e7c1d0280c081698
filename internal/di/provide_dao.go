package di

import (
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/savaki/site-deployer/internal/dao/releasedao"
)

func ProvideReleaseDAO(env string, client *dynamodb.Client) *releasedao.DAO {
	return releasedao.New(client, releasedao.TableName(env))
}
